package timeline

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
)

// ReconcileOptions 时长对齐参数
type ReconcileOptions struct {
	// Tolerance |ratio-1| 不超过该值时不做调整
	Tolerance float64
	MinTempo  float64
	MaxTempo  float64
}

// DefaultReconcileOptions 默认值：10% 容差，atempo 单级范围 [0.5, 2.0]
func DefaultReconcileOptions() ReconcileOptions {
	return ReconcileOptions{Tolerance: 0.1, MinTempo: 0.5, MaxTempo: 2.0}
}

// Decision 一次对齐判定
type Decision struct {
	SpeedRatio float64 `json:"speed_ratio"`
	Adjust     bool    `json:"adjust"`
	Tempo      float64 `json:"tempo"`
}

// DurationReconciler 比较目标时长与合成音频的实际时长，必要时变速
type DurationReconciler struct {
	logger *zap.Logger
	runner *ffmpeg.Runner
	opts   ReconcileOptions
}

// NewDurationReconciler 创建对齐器
func NewDurationReconciler(logger *zap.Logger, runner *ffmpeg.Runner, opts ReconcileOptions) *DurationReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultReconcileOptions()
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.MinTempo <= 0 {
		opts.MinTempo = def.MinTempo
	}
	if opts.MaxTempo <= 0 {
		opts.MaxTempo = def.MaxTempo
	}
	return &DurationReconciler{logger: logger, runner: runner, opts: opts}
}

// Decide ratio = actual/target。ratio>1 说明音频过长，需要加速，因此 tempo 直接取 ratio。
func (r *DurationReconciler) Decide(target, actual float64) Decision {
	if target <= 0 || actual <= 0 {
		return Decision{SpeedRatio: 1, Tempo: 1}
	}
	ratio := actual / target
	// 1e-9 吸收浮点误差，使 1.1 这样的边界值落在容差内
	if math.Abs(ratio-1) <= r.opts.Tolerance+1e-9 {
		return Decision{SpeedRatio: ratio, Tempo: 1}
	}
	return Decision{
		SpeedRatio: ratio,
		Adjust:     true,
		Tempo:      ClampTempo(ratio, r.opts.MinTempo, r.opts.MaxTempo),
	}
}

// ClampTempo 把变速系数限制在 [lo, hi]
func ClampTempo(ratio, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, ratio))
}

// Reconcile 对单个片段音频做变速。编码失败时返回原始片段，不中断流程。
func (r *DurationReconciler) Reconcile(ctx context.Context, clip AudioClip, output string) AudioClip {
	d := r.Decide(clip.TargetDuration, clip.ActualDuration)
	clip.SpeedRatio = d.SpeedRatio
	clip.Adjusted = false
	if !d.Adjust {
		return clip
	}

	cmd := &ffmpeg.Command{
		Stage:        "tempo",
		Inputs:       []ffmpeg.Input{ffmpeg.FileInput(clip.Path)},
		AudioFilters: []ffmpeg.Filter{ffmpeg.ATempo(d.Tempo)},
		OutputArgs:   ffmpeg.MP3Args,
		Output:       output,
	}
	if err := r.runner.Run(ctx, cmd); err != nil {
		r.logger.Warn("变速失败，保留原始音频",
			zap.String("path", clip.Path),
			zap.Float64("ratio", d.SpeedRatio),
			zap.Float64("tempo", d.Tempo),
			zap.Error(err))
		metrics.RecordFallback("tempo")
		return clip
	}

	adjusted := clip
	adjusted.Path = output
	adjusted.Adjusted = true
	if measured, err := r.runner.Probe(ctx, output); err == nil {
		adjusted.ActualDuration = measured
	} else {
		adjusted.ActualDuration = clip.ActualDuration / d.Tempo
		r.logger.Warn("无法读取变速后时长，使用估算值", zap.String("path", output), zap.Error(err))
	}

	r.logger.Debug("变速完成",
		zap.Float64("ratio", d.SpeedRatio),
		zap.Float64("tempo", d.Tempo),
		zap.Float64("before", clip.ActualDuration),
		zap.Float64("after", adjusted.ActualDuration))
	return adjusted
}
