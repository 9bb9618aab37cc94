package timeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
)

// AssemblerOptions 拼接参数
type AssemblerOptions struct {
	// GapThreshold 片段之间超过该间隔（秒）时插入静音
	GapThreshold float64
	// ChunkPause 分块之间固定停顿（秒），0 表示不插入
	ChunkPause    float64
	SampleRate    int
	ChannelLayout string
}

// DefaultAssemblerOptions 默认参数
func DefaultAssemblerOptions() AssemblerOptions {
	return AssemblerOptions{GapThreshold: 0.1, ChunkPause: 1.0, SampleRate: 44100, ChannelLayout: "stereo"}
}

// Assembly 拼接结果
type Assembly struct {
	Path string `json:"path"`
	// Duration 从输出文件重新测得的时长
	Duration float64 `json:"duration"`
	// Measured 为 false 表示输出存在但无法测量时长
	Measured bool `json:"measured"`
	// Clips 按顺序送入拼接的全部片段，包括静音
	Clips []AudioClip `json:"clips"`
	// Placeholder 拼接失败时输出的是占位文件，下游应检测并重试
	Placeholder bool   `json:"placeholder"`
	Error       string `json:"error,omitempty"`
}

// PlaceholderContent 拼接失败时写入的占位文件内容
const PlaceholderContent = "merged audio placeholder\n"

// Assembler 把片段音频拼接成一条连续音轨
type Assembler struct {
	logger *zap.Logger
	runner *ffmpeg.Runner
	opts   AssemblerOptions
}

// NewAssembler 创建拼接器
func NewAssembler(logger *zap.Logger, runner *ffmpeg.Runner, opts AssemblerOptions) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultAssemblerOptions()
	if opts.GapThreshold <= 0 {
		opts.GapThreshold = def.GapThreshold
	}
	if opts.ChunkPause < 0 {
		opts.ChunkPause = 0
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.ChannelLayout == "" {
		opts.ChannelLayout = def.ChannelLayout
	}
	return &Assembler{logger: logger, runner: runner, opts: opts}
}

// Silence 生成指定时长的静音 mp3
func (a *Assembler) Silence(ctx context.Context, duration float64, output string) (AudioClip, error) {
	cmd := &ffmpeg.Command{
		Stage:      "silence",
		Inputs:     []ffmpeg.Input{ffmpeg.Lavfi(ffmpeg.ANullSrc(a.opts.SampleRate, a.opts.ChannelLayout), duration)},
		OutputArgs: ffmpeg.MP3Args,
		Output:     output,
	}
	if err := a.runner.Run(ctx, cmd); err != nil {
		return AudioClip{}, err
	}
	return AudioClip{
		Path:           output,
		TargetDuration: duration,
		ActualDuration: duration,
		SpeedRatio:     1,
		Silence:        true,
	}, nil
}

// ConcatWithSilence 按开始时间排序，在间隔超过阈值处插入等长静音，再无损拼接。
// 拼接失败时写入占位文件并在结果中标记，不返回错误。
func (a *Assembler) ConcatWithSilence(ctx context.Context, items []TimedClip, workDir, output string) Assembly {
	sorted := make([]TimedClip, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Segment.StartTime < sorted[j].Segment.StartTime
	})

	var clips []AudioClip
	runningEnd := 0.0
	for _, item := range sorted {
		gap := item.Segment.StartTime - runningEnd
		if gap > a.opts.GapThreshold {
			silencePath := filepath.Join(workDir, "silence_"+uuid.NewString()+".mp3")
			silence, err := a.Silence(ctx, gap, silencePath)
			if err != nil {
				a.logger.Warn("静音生成失败，间隔将被压缩",
					zap.Float64("gap", gap),
					zap.Float64("at", runningEnd),
					zap.Error(err))
				metrics.RecordFallback("silence")
			} else {
				clips = append(clips, silence)
			}
		}
		clips = append(clips, item.Clip)
		runningEnd = item.Segment.EndTime
	}

	return a.concat(ctx, "concat_segments", clips, workDir, output)
}

// MergeChunks 按顺序拼接分块音频，块与块之间插入固定停顿。
// 分块没有绝对时间，只保留相对顺序。
func (a *Assembler) MergeChunks(ctx context.Context, chunkPaths []string, workDir, output string) (Assembly, error) {
	if len(chunkPaths) == 0 {
		return Assembly{}, ErrNoSegments
	}
	for _, p := range chunkPaths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			return Assembly{}, fmt.Errorf("%w: %s", ErrMissingClip, p)
		}
	}

	var pause *AudioClip
	if a.opts.ChunkPause > 0 {
		silence, err := a.Silence(ctx, a.opts.ChunkPause, filepath.Join(workDir, "pause_"+uuid.NewString()+".mp3"))
		if err != nil {
			a.logger.Warn("停顿静音生成失败，分块将直接相连", zap.Error(err))
			metrics.RecordFallback("silence")
		} else {
			pause = &silence
		}
	}

	var clips []AudioClip
	for i, p := range chunkPaths {
		clips = append(clips, AudioClip{Path: p, SpeedRatio: 1})
		if pause != nil && i < len(chunkPaths)-1 {
			clips = append(clips, *pause)
		}
	}

	result := a.concat(ctx, "merge_chunks", clips, workDir, output)
	if result.Placeholder {
		return result, fmt.Errorf("merge chunks: %s", result.Error)
	}
	return result, nil
}

func (a *Assembler) concat(ctx context.Context, stage string, clips []AudioClip, workDir, output string) Assembly {
	result := Assembly{Path: output, Clips: clips}

	paths := make([]string, 0, len(clips))
	for _, c := range clips {
		paths = append(paths, c.Path)
	}

	listFile := filepath.Join(workDir, "concat_"+uuid.NewString()+".txt")
	err := ffmpeg.WriteConcatList(listFile, paths)
	if err == nil {
		defer os.Remove(listFile)
		err = a.runner.Run(ctx, &ffmpeg.Command{
			Stage:      stage,
			Inputs:     []ffmpeg.Input{ffmpeg.ConcatList(listFile)},
			OutputArgs: ffmpeg.CopyArgs,
			Output:     output,
		})
	}
	if err != nil {
		a.logger.Warn("音频拼接失败，输出占位文件", zap.String("output", output), zap.Error(err))
		metrics.RecordFallback(stage)
		if werr := os.WriteFile(output, []byte(PlaceholderContent), 0644); werr != nil {
			a.logger.Error("占位文件写入失败", zap.String("output", output), zap.Error(werr))
		}
		result.Placeholder = true
		result.Error = err.Error()
		return result
	}

	d, err := a.runner.Probe(ctx, output)
	if err != nil {
		a.logger.Warn("无法测量拼接后时长", zap.String("output", output), zap.Error(err))
		return result
	}
	result.Duration = d
	result.Measured = true
	a.logger.Info("音频拼接完成",
		zap.String("stage", stage),
		zap.Int("clips", len(clips)),
		zap.Float64("duration", d))
	return result
}

// IsPlaceholder 判断文件是否为拼接失败时写入的占位文件
func IsPlaceholder(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() != int64(len(PlaceholderContent)) {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(data) == PlaceholderContent
}
