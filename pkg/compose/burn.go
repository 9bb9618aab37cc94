package compose

import (
	"context"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
)

// DefaultSubtitleStyle 烧录字幕的默认 ASS 样式
const DefaultSubtitleStyle = "FontSize=22,FontName=Arial,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=2,Shadow=1,MarginV=30"

// BurnMode 字幕最终以何种方式附着到视频
type BurnMode string

const (
	// BurnHard 字幕渲染进画面
	BurnHard BurnMode = "burned"
	// BurnSoft 字幕作为 mov_text 轨道封装
	BurnSoft BurnMode = "soft"
	// BurnNone 未能附着字幕，视频原样返回
	BurnNone BurnMode = "none"
)

// BurnResult 字幕处理结果
type BurnResult struct {
	Path  string   `json:"path"`
	Mode  BurnMode `json:"mode"`
	Error string   `json:"error,omitempty"`
}

// SubtitleBurner 把 SRT 附着到视频：先尝试烧录，失败改为软字幕，再失败则返回原视频
type SubtitleBurner struct {
	logger *zap.Logger
	runner *ffmpeg.Runner
	video  VideoOptions
	style  string
}

// NewSubtitleBurner 创建字幕烧录器，style 为空时使用 DefaultSubtitleStyle
func NewSubtitleBurner(logger *zap.Logger, runner *ffmpeg.Runner, video VideoOptions, style string) *SubtitleBurner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if style == "" {
		style = DefaultSubtitleStyle
	}
	return &SubtitleBurner{logger: logger, runner: runner, video: video.withDefaults(), style: style}
}

// PlanBurn 硬字幕命令
func (b *SubtitleBurner) PlanBurn(video, srt, output string) *ffmpeg.Command {
	return &ffmpeg.Command{
		Stage:        "burn_subtitles",
		Inputs:       []ffmpeg.Input{ffmpeg.FileInput(video)},
		VideoFilters: []ffmpeg.Filter{ffmpeg.Subtitles(srt, b.style)},
		OutputArgs:   append(ffmpeg.H264Args(b.video.Preset, b.video.CRF), "-c:a", "copy"),
		Output:       output,
	}
}

// PlanSoft 软字幕命令
func (b *SubtitleBurner) PlanSoft(video, srt, output string) *ffmpeg.Command {
	return &ffmpeg.Command{
		Stage:      "soft_subtitles",
		Inputs:     []ffmpeg.Input{ffmpeg.FileInput(video), ffmpeg.FileInput(srt)},
		Maps:       []string{"0:v", "0:a?", "1:s"},
		OutputArgs: append(ffmpeg.H264Args(b.video.Preset, b.video.CRF), "-c:a", "copy", "-c:s", "mov_text"),
		Output:     output,
	}
}

// Burn 附着字幕。返回的 Path 总是可用的视频。
func (b *SubtitleBurner) Burn(ctx context.Context, video, srt, output string) BurnResult {
	if err := requireFiles(video); err != nil {
		return BurnResult{Path: video, Mode: BurnNone, Error: err.Error()}
	}
	if err := requireFiles(srt); err != nil {
		b.logger.Warn("字幕文件不存在，跳过字幕", zap.String("srt", srt))
		metrics.RecordFallback("subtitles")
		return BurnResult{Path: video, Mode: BurnNone, Error: err.Error()}
	}

	burnErr := b.runner.Run(ctx, b.PlanBurn(video, srt, output))
	if burnErr == nil {
		return BurnResult{Path: output, Mode: BurnHard}
	}
	b.logger.Warn("字幕烧录失败，改用软字幕", zap.String("video", video), zap.Error(burnErr))
	metrics.RecordFallback("burn_subtitles")

	softErr := b.runner.Run(ctx, b.PlanSoft(video, srt, output))
	if softErr == nil {
		return BurnResult{Path: output, Mode: BurnSoft, Error: burnErr.Error()}
	}
	b.logger.Warn("软字幕封装失败，返回无字幕视频", zap.String("video", video), zap.Error(softErr))
	metrics.RecordFallback("soft_subtitles")
	return BurnResult{Path: video, Mode: BurnNone, Error: softErr.Error()}
}
