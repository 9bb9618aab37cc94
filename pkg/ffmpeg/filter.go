// Package ffmpeg 描述并执行外部转码命令。
//
// 滤镜图与命令行只在这里被构造成结构化数据，渲染成参数列表之后才交给 Executor，
// 因此偏移量、变速系数和淡入淡出曲线都可以在不启动进程的情况下做单元测试。
package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Arg 滤镜参数；Key 为空时按位置参数渲染
type Arg struct {
	Key   string
	Value string
}

// Filter 单个滤镜阶段
type Filter struct {
	Name string
	Args []Arg
}

// String 渲染为 name=k=v:k=v
func (f Filter) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	parts := make([]string, 0, len(f.Args))
	for _, a := range f.Args {
		if a.Key == "" {
			parts = append(parts, a.Value)
			continue
		}
		parts = append(parts, a.Key+"="+a.Value)
	}
	return f.Name + "=" + strings.Join(parts, ":")
}

// Param 返回指定键的参数值
func (f Filter) Param(key string) (string, bool) {
	for _, a := range f.Args {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// With 追加一个键值参数，返回新的滤镜
func (f Filter) With(key, value string) Filter {
	args := make([]Arg, len(f.Args), len(f.Args)+1)
	copy(args, f.Args)
	return Filter{Name: f.Name, Args: append(args, kv(key, value))}
}

// FormatSeconds 秒数格式化，最多保留 6 位小数并去掉多余的 0
func FormatSeconds(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

func kv(key string, value string) Arg { return Arg{Key: key, Value: value} }

func pos(value string) Arg { return Arg{Value: value} }

// ATempo 变速不变调，factor 需在 [0.5, 2.0] 之内
func ATempo(factor float64) Filter {
	return Filter{Name: "atempo", Args: []Arg{pos(FormatSeconds(factor))}}
}

// ANullSrc 静音源
func ANullSrc(sampleRate int, layout string) Filter {
	return Filter{Name: "anullsrc", Args: []Arg{
		kv("r", strconv.Itoa(sampleRate)),
		kv("cl", layout),
	}}
}

// FadeType 淡入淡出方向
type FadeType string

const (
	FadeIn  FadeType = "in"
	FadeOut FadeType = "out"
)

// AFade 音频淡入淡出
func AFade(t FadeType, start, duration float64) Filter {
	return Filter{Name: "afade", Args: []Arg{
		kv("t", string(t)),
		kv("st", FormatSeconds(start)),
		kv("d", FormatSeconds(duration)),
	}}
}

// ADelay 立体声延迟，单位秒，内部换算为毫秒
func ADelay(seconds float64) Filter {
	ms := strconv.Itoa(int(math.Round(seconds * 1000)))
	return Filter{Name: "adelay", Args: []Arg{pos(ms + "|" + ms)}}
}

// Volume 音量
func Volume(v float64) Filter {
	return Filter{Name: "volume", Args: []Arg{pos(FormatSeconds(v))}}
}

// MixDuration amix 的时长策略
type MixDuration string

const (
	MixFirst    MixDuration = "first"
	MixLongest  MixDuration = "longest"
	MixShortest MixDuration = "shortest"
)

// AMix 混音
func AMix(inputs int, duration MixDuration, dropoutTransition float64) Filter {
	return Filter{Name: "amix", Args: []Arg{
		kv("inputs", strconv.Itoa(inputs)),
		kv("duration", string(duration)),
		kv("dropout_transition", FormatSeconds(dropoutTransition)),
	}}
}

// ATrim 截取音频前 duration 秒
func ATrim(duration float64) Filter {
	return Filter{Name: "atrim", Args: []Arg{kv("duration", FormatSeconds(duration))}}
}

// XFade 视频转场
func XFade(transition string, duration, offset float64) Filter {
	return Filter{Name: "xfade", Args: []Arg{
		kv("transition", transition),
		kv("duration", FormatSeconds(duration)),
		kv("offset", FormatSeconds(offset)),
	}}
}

// Concat 流拼接滤镜
func Concat(n, v, a int) Filter {
	return Filter{Name: "concat", Args: []Arg{
		kv("n", strconv.Itoa(n)),
		kv("v", strconv.Itoa(v)),
		kv("a", strconv.Itoa(a)),
	}}
}

// FPS 帧率
func FPS(fps int) Filter {
	return Filter{Name: "fps", Args: []Arg{pos(strconv.Itoa(fps))}}
}

// ScaleFit 缩放到目标尺寸以内，保持宽高比
func ScaleFit(width, height int) Filter {
	return Filter{Name: "scale", Args: []Arg{
		pos(fmt.Sprintf("%dx%d", width, height)),
		kv("force_original_aspect_ratio", "decrease"),
	}}
}

// ScaleCover 缩放到覆盖目标尺寸，之后配合 Crop 使用
func ScaleCover(width, height int) Filter {
	return Filter{Name: "scale", Args: []Arg{
		pos(strconv.Itoa(width)),
		pos(strconv.Itoa(height)),
		kv("force_original_aspect_ratio", "increase"),
	}}
}

// Crop 裁剪到固定尺寸
func Crop(width, height int) Filter {
	return Filter{Name: "crop", Args: []Arg{pos(strconv.Itoa(width)), pos(strconv.Itoa(height))}}
}

// PadCenter 居中补边
func PadCenter(width, height int) Filter {
	return Filter{Name: "pad", Args: []Arg{
		pos(strconv.Itoa(width)),
		pos(strconv.Itoa(height)),
		pos("(ow-iw)/2"),
		pos("(oh-ih)/2"),
	}}
}

// SetSAR 像素宽高比
func SetSAR(sar string) Filter {
	return Filter{Name: "setsar", Args: []Arg{pos(sar)}}
}

// TPadClone 在视频开头复制首帧补齐 duration 秒
func TPadClone(duration float64) Filter {
	return Filter{Name: "tpad", Args: []Arg{
		kv("start_duration", FormatSeconds(duration)),
		kv("start_mode", "clone"),
	}}
}

// ZoomPan Ken Burns 缓慢推近，从 1.0 放大到 maxZoom，持续 frames 帧
func ZoomPan(maxZoom float64, frames, width, height, fps int) Filter {
	if frames < 1 {
		frames = 1
	}
	step := (maxZoom - 1.0) / float64(frames)
	return Filter{Name: "zoompan", Args: []Arg{
		kv("z", fmt.Sprintf("'min(zoom+%s,%s)'", strconv.FormatFloat(step, 'f', 8, 64), FormatSeconds(maxZoom))),
		kv("d", "1"),
		kv("x", "'iw/2-(iw/zoom/2)'"),
		kv("y", "'ih/2-(ih/zoom/2)'"),
		kv("s", fmt.Sprintf("%dx%d", width, height)),
		kv("fps", strconv.Itoa(fps)),
	}}
}

// Format 像素格式
func Format(pixFmt string) Filter {
	return Filter{Name: "format", Args: []Arg{pos(pixFmt)}}
}

// Subtitles 烧录字幕，forceStyle 为空时不覆盖样式
func Subtitles(path string, forceStyle string) Filter {
	args := []Arg{pos(escapeFilterPath(path))}
	if forceStyle != "" {
		args = append(args, kv("force_style", "'"+forceStyle+"'"))
	}
	return Filter{Name: "subtitles", Args: args}
}

// escapeFilterPath 转义滤镜参数中的路径
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `,`, `\,`)
	return r.Replace(p)
}
