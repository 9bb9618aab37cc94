package ffmpeg

import "errors"

var (
	// ErrCommandFailed 进程以非零状态退出
	ErrCommandFailed = errors.New("transcoder command failed")
	// ErrMissingOutput 进程返回成功但预期的输出文件不存在或为空
	ErrMissingOutput = errors.New("transcoder produced no output file")
	// ErrTimeout 超出单次调用的墙钟时间预算
	ErrTimeout = errors.New("transcoder command timed out")
	// ErrProbe 无法读取媒体时长
	ErrProbe = errors.New("media probe failed")
)
