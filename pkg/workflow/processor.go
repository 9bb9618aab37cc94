// Package workflow 编排各条流水线：转写配音、章节音频、章节视频、简介视频与场景幻灯片，
// 以及它们的批处理。每次运行独占一个工作目录，结束时无论成败都会清理。
package workflow

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/chunk"
	"github.com/beewebpro/new-sumotech-sub000/pkg/compose"
	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/database"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/provider"
	"github.com/beewebpro/new-sumotech-sub000/pkg/subtitle"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workspace"
)

var (
	// ErrMissingAsset 单个条目缺少必需的素材，只影响该条目
	ErrMissingAsset = errors.New("missing required asset")
	// ErrNothingToCompose 没有任何可用的片段或分块
	ErrNothingToCompose = errors.New("nothing to compose")
	// ErrNoArtifact 最终成品没有生成
	ErrNoArtifact = errors.New("final artifact was not produced")
)

// Deps 外部协作者。Runner 必填，其余为 nil 时对应能力不可用或走回退。
type Deps struct {
	Runner     *ffmpeg.Runner
	Text       timeline.TextGenerator
	Speech     provider.SpeechSynthesizer
	SpeechKind provider.Kind
	Images     provider.ImageGenerator
	Ledger     Ledger
	Reporter   progress.Reporter
}

// Processor 流水线编排器
type Processor struct {
	logger *zap.Logger
	cfg    *config.Config

	runner     *ffmpeg.Runner
	workspaces *workspace.Manager

	segmenter   *timeline.Segmenter
	aiSegmenter *timeline.AISegmenter
	reconciler  *timeline.DurationReconciler
	assembler   *timeline.Assembler
	chunker     *chunk.Chunker
	subtitles   subtitle.Synthesizer

	media      *compose.MediaBuilder
	compositor *compose.TransitionCompositor
	mixer      *compose.AudioLayerMixer
	burner     *compose.SubtitleBurner

	text       timeline.TextGenerator
	speech     provider.SpeechSynthesizer
	speechKind provider.Kind
	images     provider.ImageGenerator
	ledger     Ledger
	reporter   progress.Reporter
}

// NewProcessor 按配置组装各个组件
func NewProcessor(logger *zap.Logger, cfg *config.Config, deps Deps) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Runner == nil {
		return nil, errors.New("workflow: transcoder runner is required")
	}
	if deps.Speech == nil {
		deps.Speech = provider.NewMockSpeech(logger.Named("speech"), deps.Runner, cfg.Speech.CharsPerSecond)
		deps.SpeechKind = provider.KindMock
	}
	if deps.Ledger == nil {
		deps.Ledger = nopLedger{}
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.Nop{}
	}

	video := compose.VideoOptions{
		Width:        cfg.Video.Width,
		Height:       cfg.Video.Height,
		FPS:          cfg.Video.FPS,
		Preset:       cfg.Video.Preset,
		CRF:          cfg.Video.CRF,
		AudioBitrate: cfg.Video.AudioBitrate,
	}
	music := compose.MusicOptions{
		IntroMaxDuration: cfg.Music.IntroMaxDuration,
		IntroFade:        cfg.Music.IntroFade,
		IntroOverlap:     cfg.Music.IntroOverlap,
		OutroFade:        cfg.Music.OutroFade,
		OutroExtend:      cfg.Music.OutroExtend,
		Volume:           cfg.Music.Volume,
		BackgroundVolume: cfg.Music.BackgroundVolume,
		AudioBitrate:     cfg.Video.AudioBitrate,
	}

	segmenter := timeline.NewSegmenter(logger.Named("segment"), timeline.SegmentOptions{
		GapThreshold:     cfg.Segment.GapThreshold,
		MinWordsForBreak: cfg.Segment.MinWordsForBreak,
		MaxWords:         cfg.Segment.MaxWords,
		MaxDuration:      cfg.Segment.MaxDuration,
	})

	p := &Processor{
		logger:      logger,
		cfg:         cfg,
		runner:      deps.Runner,
		workspaces:  workspace.NewManager(logger.Named("workspace"), cfg.Workflow.WorkRoot, cfg.Workflow.KeepWorkDir),
		segmenter:   segmenter,
		aiSegmenter: timeline.NewAISegmenter(logger.Named("ai_segment"), deps.Text, segmenter),
		reconciler: timeline.NewDurationReconciler(logger.Named("reconcile"), deps.Runner, timeline.ReconcileOptions{
			Tolerance: cfg.Reconcile.Tolerance,
			MinTempo:  cfg.Reconcile.MinTempo,
			MaxTempo:  cfg.Reconcile.MaxTempo,
		}),
		assembler: timeline.NewAssembler(logger.Named("assemble"), deps.Runner, timeline.AssemblerOptions{
			GapThreshold:  cfg.Timeline.GapThreshold,
			ChunkPause:    cfg.Timeline.ChunkPause,
			SampleRate:    cfg.Timeline.SampleRate,
			ChannelLayout: cfg.Timeline.ChannelLayout,
		}),
		chunker:    chunk.NewChunker(logger.Named("chunk"), deps.Text),
		subtitles:  subtitle.Synthesizer{MinDuration: cfg.Subtitle.MinDuration},
		media:      compose.NewMediaBuilder(logger.Named("media"), deps.Runner, video, cfg.FFmpeg.ClipTimeout),
		compositor: compose.NewTransitionCompositor(logger.Named("xfade"), deps.Runner, video, cfg.Video.TransitionDuration, cfg.Video.Transitions),
		mixer:      compose.NewAudioLayerMixer(logger.Named("mixer"), deps.Runner, music, video),
		burner:     compose.NewSubtitleBurner(logger.Named("subtitles"), deps.Runner, video, cfg.Subtitle.ForceStyle),
		text:       deps.Text,
		speech:     deps.Speech,
		speechKind: deps.SpeechKind,
		images:     deps.Images,
		ledger:     deps.Ledger,
		reporter:   deps.Reporter,
	}
	return p, nil
}

// NewProcessorFromConfig 用本机 ffmpeg 与配置中的服务商创建编排器。
// 返回的 closer 负责关闭运行记录库。
func NewProcessorFromConfig(logger *zap.Logger, cfg *config.Config, reporter progress.Reporter) (*Processor, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	exec := ffmpeg.NewLocalExecutor(logger.Named("exec"), map[string]string{
		"ffmpeg":  cfg.FFmpeg.Path,
		"ffprobe": cfg.FFmpeg.ProbePath,
	}, cfg.FFmpeg.Timeout)
	runner := ffmpeg.NewRunner(logger.Named("ffmpeg"), exec, ffmpeg.RunnerConfig{
		Timeout:      cfg.FFmpeg.Timeout,
		ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
	})

	text, err := provider.NewText(logger.Named("text"), cfg.AI)
	if err != nil {
		logger.Warn("文本模型不可用，分段与分块将使用规则回退", zap.Error(err))
		text = nil
	}
	speech, speechKind, err := provider.NewSpeech(logger.Named("speech"), cfg.Speech, runner)
	if err != nil {
		return nil, nil, fmt.Errorf("语音服务配置错误: %w", err)
	}
	images, _, err := provider.NewImage(logger.Named("image"), cfg.Image, cfg.Video.Width, cfg.Video.Height)
	if err != nil {
		return nil, nil, fmt.Errorf("图片服务配置错误: %w", err)
	}

	closer := func() error { return nil }
	var ledger Ledger
	if cfg.Database.Enabled {
		db, err := database.NewGormManager(logger.Named("ledger"), cfg.Database.Path)
		if err != nil {
			logger.Warn("运行记录库不可用，继续运行但不记录", zap.Error(err))
		} else {
			ledger = db
			closer = db.Close
		}
	}

	p, err := NewProcessor(logger, cfg, Deps{
		Runner:     runner,
		Text:       text,
		Speech:     speech,
		SpeechKind: speechKind,
		Images:     images,
		Ledger:     ledger,
		Reporter:   reporter,
	})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return p, closer, nil
}

// Config 当前配置
func (p *Processor) Config() *config.Config { return p.cfg }

// Runner 转码器
func (p *Processor) Runner() *ffmpeg.Runner { return p.runner }

// Segmenter 规则分段器
func (p *Processor) Segmenter() *timeline.Segmenter { return p.segmenter }

// AllocateOptions 场景时长分配参数
func (p *Processor) AllocateOptions() compose.AllocateOptions {
	return compose.AllocateOptions{
		MinDuration:        p.cfg.Video.MinSceneDuration,
		TransitionDuration: p.compositor.TransitionDuration(),
	}
}

// SubtitleSynthesizer 字幕时间轴生成器
func (p *Processor) SubtitleSynthesizer() subtitle.Synthesizer { return p.subtitles }

// tracker 绑定到某个任务的进度上报
func (p *Processor) tracker(jobID, stage string) *progress.Tracker {
	return progress.NewTracker(p.reporter, jobID, stage)
}
