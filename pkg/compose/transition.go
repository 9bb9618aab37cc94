package compose

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
)

// DefaultPalette 转场类型
var DefaultPalette = []string{
	"fade", "wipeleft", "wiperight", "wipeup", "wipedown", "slideleft", "slideright", "dissolve",
}

// Transition 两个片段之间的一次转场
type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
	Offset   float64 `json:"offset"`
}

// Clip 待拼接的视频片段
type Clip struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

// VideoOptions 输出画面与编码参数
type VideoOptions struct {
	Width        int
	Height       int
	FPS          int
	Preset       string
	CRF          int
	AudioBitrate string
}

// DefaultVideoOptions 1920x1080 30fps
func DefaultVideoOptions() VideoOptions {
	return VideoOptions{Width: 1920, Height: 1080, FPS: 30, Preset: "fast", CRF: 23, AudioBitrate: "192k"}
}

func (o VideoOptions) withDefaults() VideoOptions {
	d := DefaultVideoOptions()
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = d.Width, d.Height
	}
	if o.FPS <= 0 {
		o.FPS = d.FPS
	}
	if o.Preset == "" {
		o.Preset = d.Preset
	}
	if o.CRF <= 0 {
		o.CRF = d.CRF
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = d.AudioBitrate
	}
	return o
}

func (o VideoOptions) encodeArgs() []string {
	args := ffmpeg.H264Args(o.Preset, o.CRF)
	return append(args, ffmpeg.AACArgs(o.AudioBitrate)...)
}

// Offsets 第 i 个转场的起点 = 前 i+1 个片段时长之和 − (i+1)×转场时长，不小于 0
func Offsets(durations []float64, transition float64) []float64 {
	if len(durations) < 2 {
		return nil
	}
	offsets := make([]float64, len(durations)-1)
	cum := 0.0
	for i := 0; i < len(durations)-1; i++ {
		cum += durations[i]
		offsets[i] = max(0, cum-float64(i+1)*transition)
	}
	return offsets
}

// Composite 拼接结果
type Composite struct {
	Path        string       `json:"path"`
	Duration    float64      `json:"duration"`
	Transitions []Transition `json:"transitions,omitempty"`
	// FellBack 转场编码失败，改用了无转场的直接拼接
	FellBack bool `json:"fell_back"`
}

// TransitionCompositor 用 xfade 转场把片段串成一个视频
type TransitionCompositor struct {
	logger   *zap.Logger
	runner   *ffmpeg.Runner
	video    VideoOptions
	duration float64
	palette  []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewTransitionCompositor 创建转场合成器。transition<=0 时使用 0.5s，palette 为空时使用 DefaultPalette。
func NewTransitionCompositor(logger *zap.Logger, runner *ffmpeg.Runner, video VideoOptions, transition float64, palette []string) *TransitionCompositor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transition <= 0 {
		transition = 0.5
	}
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &TransitionCompositor{
		logger:   logger,
		runner:   runner,
		video:    video.withDefaults(),
		duration: transition,
		palette:  palette,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed 固定随机序列
func (c *TransitionCompositor) Seed(seed int64) {
	c.mu.Lock()
	c.rnd = rand.New(rand.NewSource(seed))
	c.mu.Unlock()
}

// TransitionDuration 转场时长
func (c *TransitionCompositor) TransitionDuration() float64 { return c.duration }

func (c *TransitionCompositor) pick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.palette[c.rnd.Intn(len(c.palette))]
}

// Plan 构造转场命令：先把每个片段统一到目标分辨率与帧率，再串联 xfade；
// 音频按顺序直接拼接，不做交叉淡化。
func (c *TransitionCompositor) Plan(clips []Clip, output string) (*ffmpeg.Command, []Transition) {
	v := c.video
	cmd := &ffmpeg.Command{
		Stage:      "xfade",
		Graph:      &ffmpeg.Graph{},
		OutputArgs: v.encodeArgs(),
		Output:     output,
	}

	durations := make([]float64, len(clips))
	for i, clip := range clips {
		cmd.Inputs = append(cmd.Inputs, ffmpeg.FileInput(clip.Path))
		durations[i] = clip.Duration
		cmd.Graph.Add([]string{strconv.Itoa(i) + ":v"}, []string{"v" + strconv.Itoa(i)},
			ffmpeg.FPS(v.FPS),
			ffmpeg.ScaleFit(v.Width, v.Height),
			ffmpeg.PadCenter(v.Width, v.Height),
			ffmpeg.SetSAR("1"),
		)
	}

	offsets := Offsets(durations, c.duration)
	transitions := make([]Transition, len(offsets))
	current := "v0"
	for i, off := range offsets {
		t := Transition{Type: c.pick(), Duration: c.duration, Offset: off}
		transitions[i] = t
		out := "x" + strconv.Itoa(i+1)
		if i == len(offsets)-1 {
			out = "outv"
		}
		cmd.Graph.Add([]string{current, "v" + strconv.Itoa(i+1)}, []string{out},
			ffmpeg.XFade(t.Type, t.Duration, t.Offset))
		current = out
	}

	audioIn := make([]string, len(clips))
	for i := range clips {
		audioIn[i] = strconv.Itoa(i) + ":a"
	}
	cmd.Graph.Add(audioIn, []string{"outa"}, ffmpeg.Concat(len(clips), 0, 1))
	cmd.Maps = []string{"[outv]", "[outa]"}
	return cmd, transitions
}

// Compose 转场拼接；失败时改用 concat demuxer 直接拼接（不做任何滤镜处理）。
// 单个片段直接返回该片段。
func (c *TransitionCompositor) Compose(ctx context.Context, clips []Clip, workDir, output string) (Composite, error) {
	if len(clips) == 0 {
		return Composite{}, ErrNoScenes
	}
	for _, clip := range clips {
		if _, err := os.Stat(clip.Path); err != nil {
			return Composite{}, fmt.Errorf("%w: %s", ErrMissingAsset, clip.Path)
		}
	}
	if len(clips) == 1 {
		return Composite{Path: clips[0].Path, Duration: clips[0].Duration}, nil
	}

	cmd, transitions := c.Plan(clips, output)
	c.logger.Info("开始转场拼接", zap.Int("clips", len(clips)), zap.Float64("transition", c.duration))

	result := Composite{Path: output, Transitions: transitions}
	if err := c.runner.Run(ctx, cmd); err != nil {
		c.logger.Warn("转场拼接失败，改用直接拼接", zap.Error(err))
		metrics.RecordFallback("xfade")
		if ferr := c.concatFallback(ctx, clips, workDir, output); ferr != nil {
			return Composite{}, fmt.Errorf("直接拼接也失败: %w", errors.Join(err, ferr))
		}
		result.FellBack = true
		result.Transitions = nil
	}

	d, err := c.runner.Probe(ctx, output)
	if err != nil {
		return Composite{}, err
	}
	result.Duration = d
	return result, nil
}

func (c *TransitionCompositor) concatFallback(ctx context.Context, clips []Clip, workDir, output string) error {
	paths := make([]string, len(clips))
	for i, clip := range clips {
		paths[i] = clip.Path
	}
	listFile := filepath.Join(workDir, "concat_clips.txt")
	if err := ffmpeg.WriteConcatList(listFile, paths); err != nil {
		return err
	}
	defer os.Remove(listFile)

	return c.runner.Run(ctx, &ffmpeg.Command{
		Stage:      "concat_fallback",
		Inputs:     []ffmpeg.Input{ffmpeg.ConcatList(listFile)},
		OutputArgs: c.video.encodeArgs(),
		Output:     output,
	})
}
