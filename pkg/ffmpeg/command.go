package ffmpeg

import (
	"strconv"
	"strings"
	"time"
)

// Input 一个输入源及其输入选项（出现在 -i 之前）
type Input struct {
	Path    string
	Options []string
}

// FileInput 普通文件输入
func FileInput(path string) Input {
	return Input{Path: path}
}

// LoopImage 循环单张图片作为视频流
func LoopImage(path string) Input {
	return Input{Path: path, Options: []string{"-loop", "1"}}
}

// LoopStream 无限循环输入（背景音乐）
func LoopStream(path string) Input {
	return Input{Path: path, Options: []string{"-stream_loop", "-1"}}
}

// ConcatList concat demuxer 列表文件输入
func ConcatList(listFile string) Input {
	return Input{Path: listFile, Options: []string{"-f", "concat", "-safe", "0"}}
}

// Lavfi 以滤镜为源的虚拟输入，duration>0 时限定时长
func Lavfi(source Filter, duration float64) Input {
	opts := []string{"-f", "lavfi"}
	if duration > 0 {
		opts = append(opts, "-t", FormatSeconds(duration))
	}
	return Input{Path: source.String(), Options: opts}
}

// Command 一次 ffmpeg 调用的结构化描述
type Command struct {
	// Stage 调用方阶段名，用于日志与指标
	Stage        string
	Inputs       []Input
	Graph        *Graph
	AudioFilters []Filter
	VideoFilters []Filter
	Maps         []string
	// Duration 输出时长限制，0 表示不限制
	Duration float64
	// Timeout 本次调用的墙钟预算，0 表示使用 Runner 的默认值
	Timeout    time.Duration
	OutputArgs []string
	Output     string
}

// Args 渲染为 ffmpeg 参数列表
func (c *Command) Args() []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, in := range c.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if c.Graph != nil && len(c.Graph.Chains) > 0 {
		args = append(args, "-filter_complex", c.Graph.String())
	}
	if len(c.VideoFilters) > 0 {
		args = append(args, "-vf", joinFilters(c.VideoFilters))
	}
	if len(c.AudioFilters) > 0 {
		args = append(args, "-af", joinFilters(c.AudioFilters))
	}
	for _, m := range c.Maps {
		args = append(args, "-map", m)
	}
	if c.Duration > 0 {
		args = append(args, "-t", FormatSeconds(c.Duration))
	}
	args = append(args, c.OutputArgs...)
	args = append(args, c.Output)
	return args
}

// String 便于日志输出的命令行
func (c *Command) String() string {
	return "ffmpeg " + strings.Join(c.Args(), " ")
}

// HasFilter 判断命令中是否使用了指定滤镜
func (c *Command) HasFilter(name string) bool {
	if c.Graph != nil {
		if _, ok := c.Graph.Find(name); ok {
			return true
		}
	}
	for _, f := range append(append([]Filter{}, c.AudioFilters...), c.VideoFilters...) {
		if f.Name == name {
			return true
		}
	}
	return false
}

// FindFilter 在滤镜图与简单滤镜中查找第一个同名滤镜
func (c *Command) FindFilter(name string) (Filter, bool) {
	if c.Graph != nil {
		if f, ok := c.Graph.Find(name); ok {
			return f, true
		}
	}
	for _, f := range append(append([]Filter{}, c.AudioFilters...), c.VideoFilters...) {
		if f.Name == name {
			return f, true
		}
	}
	return Filter{}, false
}

func joinFilters(fs []Filter) string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, ",")
}

// 常用编码参数
var (
	// MP3Args 与 concat -c copy 兼容的 mp3 编码参数
	MP3Args = []string{"-c:a", "libmp3lame", "-b:a", "192k", "-ar", "44100", "-ac", "2"}
	// CopyArgs 无损拼接
	CopyArgs = []string{"-c", "copy"}
)

// H264Args libx264 标准输出参数
func H264Args(preset string, crf int) []string {
	return []string{"-c:v", "libx264", "-preset", preset, "-crf", strconv.Itoa(crf), "-pix_fmt", "yuv420p"}
}

// AACArgs AAC 音频输出参数
func AACArgs(bitrate string) []string {
	return []string{"-c:a", "aac", "-b:a", bitrate}
}
