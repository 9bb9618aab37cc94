package compose

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
)

// MusicOptions 片头、片尾与背景音乐参数，单位秒
type MusicOptions struct {
	IntroMaxDuration float64
	IntroFade        float64
	// IntroOverlap 人声开始后片头继续淡出的时长
	IntroOverlap     float64
	OutroFade        float64
	OutroExtend      float64
	Volume           float64
	BackgroundVolume float64
	AudioBitrate     string
}

// DefaultMusicOptions 默认参数
func DefaultMusicOptions() MusicOptions {
	return MusicOptions{
		IntroMaxDuration: 5,
		IntroFade:        3,
		IntroOverlap:     0.5,
		OutroFade:        3,
		OutroExtend:      5,
		Volume:           0.3,
		BackgroundVolume: 0.15,
		AudioBitrate:     "192k",
	}
}

func (o MusicOptions) withDefaults() MusicOptions {
	d := DefaultMusicOptions()
	if o.IntroMaxDuration <= 0 {
		o.IntroMaxDuration = d.IntroMaxDuration
	}
	if o.IntroFade <= 0 {
		o.IntroFade = d.IntroFade
	}
	if o.IntroOverlap < 0 {
		o.IntroOverlap = 0
	}
	if o.OutroFade <= 0 {
		o.OutroFade = d.OutroFade
	}
	if o.OutroExtend < 0 {
		o.OutroExtend = 0
	}
	if o.Volume <= 0 {
		o.Volume = d.Volume
	}
	if o.BackgroundVolume <= 0 {
		o.BackgroundVolume = d.BackgroundVolume
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = d.AudioBitrate
	}
	return o
}

// MixInput 一次混音的输入
type MixInput struct {
	// Base 人声音轨或带音轨的视频
	Base string
	// BaseDuration 0 表示需要测量
	BaseDuration float64
	// Video 为 true 时 Base 是视频：画面保留，输出时长受画面约束
	Video bool
	Intro string
	Outro string
}

// MixResult 混音结果。Mixed 为 false 时 Path 就是未改动的 Base。
type MixResult struct {
	Path     string  `json:"path"`
	Mixed    bool    `json:"mixed"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// MixPlan 混音滤镜图的时间参数
type MixPlan struct {
	IntroDuration float64 `json:"intro_duration"`
	// VoiceDelay 人声被推后的时长
	VoiceDelay float64 `json:"voice_delay"`
	// OutroStart 片尾音乐在输出时间轴上的起点
	OutroStart float64 `json:"outro_start"`
}

// AudioLayerMixer 在人声上叠加音乐。任何失败都保留原始输入并记录警告。
type AudioLayerMixer struct {
	logger *zap.Logger
	runner *ffmpeg.Runner
	opts   MusicOptions
	video  VideoOptions
}

// NewAudioLayerMixer 创建混音器
func NewAudioLayerMixer(logger *zap.Logger, runner *ffmpeg.Runner, opts MusicOptions, video VideoOptions) *AudioLayerMixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioLayerMixer{logger: logger, runner: runner, opts: opts.withDefaults(), video: video.withDefaults()}
}

// Plan 构造片头/片尾混音命令。
//
// 片头：截取不超过 IntroMaxDuration 的部分，淡出在人声开始后 IntroOverlap 秒结束，
// 人声整体推后片头时长后与之混合（视频则在开头复制首帧补齐画面）。
// 片尾：淡入后混入人声尾部，音频输出在人声结束后再延续 OutroExtend 秒，
// 视频输出则让片尾在画面结束前完整淡入。两者同时存在时先混片头，再混片尾。
func (m *AudioLayerMixer) Plan(in MixInput, introDuration float64, output string) (*ffmpeg.Command, MixPlan) {
	o := m.opts
	g := &ffmpeg.Graph{}
	cmd := &ffmpeg.Command{Stage: "music", Inputs: []ffmpeg.Input{ffmpeg.FileInput(in.Base)}, Graph: g, Output: output}

	var plan MixPlan
	voice := "0:a"
	mixDuration := ffmpeg.MixLongest
	if in.Video {
		mixDuration = ffmpeg.MixFirst
	}

	if in.Intro != "" {
		introIdx := len(cmd.Inputs)
		cmd.Inputs = append(cmd.Inputs, ffmpeg.FileInput(in.Intro))
		plan.IntroDuration = min(introDuration, o.IntroMaxDuration)
		plan.VoiceDelay = plan.IntroDuration

		// 淡出在人声开始后 IntroOverlap 秒结束，片头之后不再发声
		introEnd := plan.IntroDuration + o.IntroOverlap
		fadeStart := max(0, plan.IntroDuration-o.IntroFade)
		g.Add([]string{itoa(introIdx) + ":a"}, []string{"intro"},
			ffmpeg.ATrim(introEnd),
			ffmpeg.AFade(ffmpeg.FadeOut, fadeStart, introEnd-fadeStart),
			ffmpeg.Volume(o.Volume),
		)
		g.Add([]string{"0:a"}, []string{"voice"}, ffmpeg.ADelay(plan.VoiceDelay))
		// 人声在前，使 duration=first 以人声为准
		g.Add([]string{"voice", "intro"}, []string{"premix"},
			ffmpeg.AMix(2, ffmpeg.MixLongest, 2).With("normalize", "0"))
		voice = "premix"
	}

	if in.Outro != "" {
		outroIdx := len(cmd.Inputs)
		cmd.Inputs = append(cmd.Inputs, ffmpeg.FileInput(in.Outro))
		length := o.OutroFade + o.OutroExtend
		if in.Video {
			plan.OutroStart = plan.VoiceDelay + max(0, in.BaseDuration-length)
		} else {
			plan.OutroStart = plan.VoiceDelay + max(0, in.BaseDuration-o.OutroFade)
		}

		filters := []ffmpeg.Filter{
			ffmpeg.ATrim(length),
			ffmpeg.AFade(ffmpeg.FadeIn, 0, o.OutroFade),
		}
		if length > 2 {
			filters = append(filters, ffmpeg.AFade(ffmpeg.FadeOut, length-2, 2))
		}
		filters = append(filters, ffmpeg.Volume(o.Volume), ffmpeg.ADelay(plan.OutroStart))
		g.Add([]string{itoa(outroIdx) + ":a"}, []string{"outro"}, filters...)
		g.Add([]string{voice, "outro"}, []string{"outa"},
			ffmpeg.AMix(2, mixDuration, 2).With("normalize", "0"))
	} else if len(g.Chains) > 0 {
		g.Chains[len(g.Chains)-1].Out = []string{"outa"}
	}

	if in.Video {
		if plan.VoiceDelay > 0 {
			g.Add([]string{"0:v"}, []string{"v"}, ffmpeg.TPadClone(plan.VoiceDelay))
			cmd.Maps = []string{"[v]", "[outa]"}
			cmd.OutputArgs = m.video.encodeArgs()
		} else {
			cmd.Maps = []string{"0:v", "[outa]"}
			cmd.OutputArgs = append([]string{"-c:v", "copy"}, ffmpeg.AACArgs(o.AudioBitrate)...)
		}
		cmd.OutputArgs = append(cmd.OutputArgs, "-shortest")
	} else {
		cmd.Maps = []string{"[outa]"}
		cmd.OutputArgs = []string{"-c:a", "libmp3lame", "-b:a", o.AudioBitrate}
	}
	return cmd, plan
}

// Mix 叠加片头和/或片尾音乐。未提供任何音乐时原样返回。
func (m *AudioLayerMixer) Mix(ctx context.Context, in MixInput, output string) MixResult {
	keep := MixResult{Path: in.Base}
	if in.Intro == "" && in.Outro == "" {
		return keep
	}
	stage := "mix_intro_outro"
	switch {
	case in.Outro == "":
		stage = "mix_intro"
	case in.Intro == "":
		stage = "mix_outro"
	}

	if err := requireFiles(in.Base); err != nil {
		return m.fallback(stage, keep, err)
	}
	if in.BaseDuration <= 0 {
		d, err := m.runner.Probe(ctx, in.Base)
		if err != nil {
			return m.fallback(stage, keep, err)
		}
		in.BaseDuration = d
	}

	introDuration := 0.0
	if in.Intro != "" {
		if err := requireFiles(in.Intro); err != nil {
			return m.fallback(stage, keep, err)
		}
		d, err := m.runner.Probe(ctx, in.Intro)
		if err != nil {
			m.logger.Warn("无法测量片头音乐时长，按上限处理", zap.String("intro", in.Intro), zap.Error(err))
			d = m.opts.IntroMaxDuration
		}
		introDuration = d
	}
	if in.Outro != "" {
		if err := requireFiles(in.Outro); err != nil {
			return m.fallback(stage, keep, err)
		}
	}

	cmd, plan := m.Plan(in, introDuration, output)
	cmd.Stage = stage
	if err := m.runner.Run(ctx, cmd); err != nil {
		return m.fallback(stage, keep, err)
	}

	m.logger.Info("音乐混音完成",
		zap.String("stage", stage),
		zap.Float64("voice_delay", plan.VoiceDelay),
		zap.Float64("outro_start", plan.OutroStart))
	return m.result(ctx, output)
}

// AddIntro 只叠加片头
func (m *AudioLayerMixer) AddIntro(ctx context.Context, base, intro string, video bool, output string) MixResult {
	return m.Mix(ctx, MixInput{Base: base, Video: video, Intro: intro}, output)
}

// AddOutro 只叠加片尾
func (m *AudioLayerMixer) AddOutro(ctx context.Context, base, outro string, video bool, output string) MixResult {
	return m.Mix(ctx, MixInput{Base: base, Video: video, Outro: outro}, output)
}

// AddIntroOutro 片头片尾在同一个滤镜图中两级混音
func (m *AudioLayerMixer) AddIntroOutro(ctx context.Context, base, intro, outro string, video bool, output string) MixResult {
	return m.Mix(ctx, MixInput{Base: base, Video: video, Intro: intro, Outro: outro}, output)
}

// PlanBackground 循环背景音乐，降低音量后以人声长度为准混入
func (m *AudioLayerMixer) PlanBackground(base, music string, video bool, output string) *ffmpeg.Command {
	g := (&ffmpeg.Graph{}).
		Add([]string{"1:a"}, []string{"bg"}, ffmpeg.Volume(m.opts.BackgroundVolume)).
		Add([]string{"0:a", "bg"}, []string{"outa"}, ffmpeg.AMix(2, ffmpeg.MixFirst, 2))
	cmd := &ffmpeg.Command{
		Stage:  "mix_background",
		Inputs: []ffmpeg.Input{ffmpeg.FileInput(base), ffmpeg.LoopStream(music)},
		Graph:  g,
		Output: output,
	}
	if video {
		cmd.Maps = []string{"0:v", "[outa]"}
		cmd.OutputArgs = append(append([]string{"-c:v", "copy"}, ffmpeg.AACArgs(m.opts.AudioBitrate)...), "-shortest")
	} else {
		cmd.Maps = []string{"[outa]"}
		cmd.OutputArgs = []string{"-c:a", "libmp3lame", "-b:a", m.opts.AudioBitrate}
	}
	return cmd
}

// AddBackground 叠加背景音乐
func (m *AudioLayerMixer) AddBackground(ctx context.Context, base, music string, video bool, output string) MixResult {
	keep := MixResult{Path: base}
	if music == "" {
		return keep
	}
	if err := requireFiles(base, music); err != nil {
		return m.fallback("mix_background", keep, err)
	}
	if err := m.runner.Run(ctx, m.PlanBackground(base, music, video, output)); err != nil {
		return m.fallback("mix_background", keep, err)
	}
	return m.result(ctx, output)
}

func (m *AudioLayerMixer) result(ctx context.Context, output string) MixResult {
	res := MixResult{Path: output, Mixed: true}
	if d, err := m.runner.Probe(ctx, output); err == nil {
		res.Duration = d
	}
	return res
}

func (m *AudioLayerMixer) fallback(stage string, keep MixResult, err error) MixResult {
	m.logger.Warn("混音失败，保留原始输入", zap.String("stage", stage), zap.String("base", keep.Path), zap.Error(err))
	metrics.RecordFallback(stage)
	keep.Error = err.Error()
	return keep
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
