package timeline

import "errors"

var (
	// ErrNoSegments 没有任何可用片段
	ErrNoSegments = errors.New("no usable segments")
	// ErrAIUnavailable 语义分段服务未配置
	ErrAIUnavailable = errors.New("semantic segmentation unavailable")
	// ErrAIResponse 语义分段返回内容无法解析
	ErrAIResponse = errors.New("invalid semantic segmentation response")
	// ErrMissingClip 待拼接的音频文件不存在
	ErrMissingClip = errors.New("audio clip missing")
)
