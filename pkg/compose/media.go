package compose

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
)

// 推近幅度
const (
	ChunkZoom = 1.15
	SceneZoom = 1.2
)

// MediaBuilder 把静态图片或视频素材做成统一规格的片段
type MediaBuilder struct {
	logger  *zap.Logger
	runner  *ffmpeg.Runner
	video   VideoOptions
	timeout time.Duration
	rate    int
}

// NewMediaBuilder 创建片段生成器。clipTimeout 为单个片段的墙钟预算，0 表示使用 Runner 默认值。
func NewMediaBuilder(logger *zap.Logger, runner *ffmpeg.Runner, video VideoOptions, clipTimeout time.Duration) *MediaBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaBuilder{logger: logger, runner: runner, video: video.withDefaults(), timeout: clipTimeout, rate: 44100}
}

func (b *MediaBuilder) kenBurns(duration, zoom float64) []ffmpeg.Filter {
	v := b.video
	frames := int(math.Ceil(duration * float64(v.FPS)))
	return []ffmpeg.Filter{
		ffmpeg.ScaleCover(v.Width, v.Height),
		ffmpeg.Crop(v.Width, v.Height),
		ffmpeg.ZoomPan(zoom, frames, v.Width, v.Height, v.FPS),
	}
}

// ImageWithAudio 图片 + 配音 ⇒ 带 Ken Burns 推近效果的片段，时长跟随音频。
// duration<=0 时从音频测量。
func (b *MediaBuilder) ImageWithAudio(ctx context.Context, image, audio string, duration, zoom float64, output string) (Clip, error) {
	if err := requireFiles(image, audio); err != nil {
		return Clip{}, err
	}
	if duration <= 0 {
		d, err := b.runner.Probe(ctx, audio)
		if err != nil {
			return Clip{}, err
		}
		duration = d
	}

	cmd := &ffmpeg.Command{
		Stage:   "image_clip",
		Inputs:  []ffmpeg.Input{ffmpeg.LoopImage(image), ffmpeg.FileInput(audio)},
		Graph:   (&ffmpeg.Graph{}).Add([]string{"0:v"}, []string{"v"}, b.kenBurns(duration, zoom)...),
		Maps:    []string{"[v]", "1:a"},
		Timeout: b.timeout,
		Output:  output,
	}
	cmd.OutputArgs = append(b.video.encodeArgs(), "-shortest")

	b.logger.Info("生成图片片段", zap.String("image", image), zap.Float64("duration", duration))
	if err := b.runner.Run(ctx, cmd); err != nil {
		return Clip{}, fmt.Errorf("图片片段生成失败: %w", err)
	}
	return b.measured(ctx, output, duration), nil
}

// SilentImage 图片 ⇒ 固定时长片段，附带静音音轨，便于后续统一拼接音频流
func (b *MediaBuilder) SilentImage(ctx context.Context, image string, duration, zoom float64, output string) (Clip, error) {
	if err := requireFiles(image); err != nil {
		return Clip{}, err
	}
	cmd := &ffmpeg.Command{
		Stage: "scene_clip",
		Inputs: []ffmpeg.Input{
			ffmpeg.LoopImage(image),
			ffmpeg.Lavfi(ffmpeg.ANullSrc(b.rate, "stereo"), duration),
		},
		Graph:      (&ffmpeg.Graph{}).Add([]string{"0:v"}, []string{"v"}, b.kenBurns(duration, zoom)...),
		Maps:       []string{"[v]", "1:a"},
		Duration:   duration,
		Timeout:    b.timeout,
		OutputArgs: b.video.encodeArgs(),
		Output:     output,
	}
	if err := b.runner.Run(ctx, cmd); err != nil {
		return Clip{}, fmt.Errorf("场景片段生成失败: %w", err)
	}
	return b.measured(ctx, output, duration), nil
}

// VideoSegment 视频素材 ⇒ 循环或截断到固定时长，原音轨替换为静音
func (b *MediaBuilder) VideoSegment(ctx context.Context, source string, duration float64, output string) (Clip, error) {
	if err := requireFiles(source); err != nil {
		return Clip{}, err
	}
	v := b.video
	cmd := &ffmpeg.Command{
		Stage: "video_clip",
		Inputs: []ffmpeg.Input{
			ffmpeg.LoopStream(source),
			ffmpeg.Lavfi(ffmpeg.ANullSrc(b.rate, "stereo"), duration),
		},
		Graph: (&ffmpeg.Graph{}).Add([]string{"0:v"}, []string{"v"},
			ffmpeg.FPS(v.FPS),
			ffmpeg.ScaleFit(v.Width, v.Height),
			ffmpeg.PadCenter(v.Width, v.Height),
			ffmpeg.SetSAR("1"),
		),
		Maps:       []string{"[v]", "1:a"},
		Duration:   duration,
		Timeout:    b.timeout,
		OutputArgs: v.encodeArgs(),
		Output:     output,
	}
	if err := b.runner.Run(ctx, cmd); err != nil {
		return Clip{}, fmt.Errorf("视频片段生成失败: %w", err)
	}
	return b.measured(ctx, output, duration), nil
}

// MuxAudio 用 audio 替换 video 的音轨，以较短者为准
func (b *MediaBuilder) MuxAudio(ctx context.Context, video, audio, output string) (Clip, error) {
	if err := requireFiles(video, audio); err != nil {
		return Clip{}, err
	}
	cmd := &ffmpeg.Command{
		Stage:  "mux_audio",
		Inputs: []ffmpeg.Input{ffmpeg.FileInput(video), ffmpeg.FileInput(audio)},
		Maps:   []string{"0:v", "1:a"},
		Output: output,
	}
	cmd.OutputArgs = append(append([]string{"-c:v", "copy"}, ffmpeg.AACArgs(b.video.AudioBitrate)...), "-shortest")
	if err := b.runner.Run(ctx, cmd); err != nil {
		return Clip{}, fmt.Errorf("音轨合成失败: %w", err)
	}
	return b.measured(ctx, output, 0), nil
}

// measured 读取输出的真实时长，失败时使用预期值
func (b *MediaBuilder) measured(ctx context.Context, path string, expected float64) Clip {
	d, err := b.runner.Probe(ctx, path)
	if err != nil {
		b.logger.Warn("无法测量片段时长，使用预期值", zap.String("path", path), zap.Error(err))
		d = expected
	}
	return Clip{Path: path, Duration: d}
}

func requireFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			return fmt.Errorf("%w: empty path", ErrMissingAsset)
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			return fmt.Errorf("%w: %s", ErrMissingAsset, p)
		}
	}
	return nil
}
