package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
)

// RunnerConfig 转码器调用配置
type RunnerConfig struct {
	FFmpeg  string
	FFprobe string
	// Timeout 单次调用默认墙钟预算
	Timeout time.Duration
	// ProbeTimeout ffprobe 调用预算
	ProbeTimeout time.Duration
}

// Runner 把结构化命令交给 Executor 执行，并校验输出文件
type Runner struct {
	exec   Executor
	cfg    RunnerConfig
	logger *zap.Logger
}

// NewRunner 创建 Runner
func NewRunner(logger *zap.Logger, exec Executor, cfg RunnerConfig) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = "ffprobe"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	return &Runner{exec: exec, cfg: cfg, logger: logger}
}

// Run 执行命令。退出码为 0 并不代表成功，输出文件必须存在且非空。
func (r *Runner) Run(ctx context.Context, cmd *Command) error {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = r.cfg.Timeout
	}
	stage := cmd.Stage
	if stage == "" {
		stage = "ffmpeg"
	}

	r.logger.Debug("执行转码命令", zap.String("stage", stage), zap.Strings("args", cmd.Args()))

	resp, err := r.exec.Execute(ctx, CommandRequest{
		Command: r.cfg.FFmpeg,
		Args:    cmd.Args(),
		Timeout: timeout,
	})
	metrics.RecordCommandDuration("ffmpeg", stage, resp.Duration.Seconds())

	if err != nil {
		status := "failed"
		if errors.Is(err, ErrTimeout) {
			status = "timeout"
		}
		metrics.RecordCommandExecution("ffmpeg", stage, status)
		r.logger.Warn("转码命令失败",
			zap.String("stage", stage),
			zap.Int("exit_code", resp.ExitCode),
			zap.String("stderr", tail(resp.Stderr, 800)),
			zap.Error(err))
		return err
	}

	if !fileNonEmpty(cmd.Output) {
		metrics.RecordCommandExecution("ffmpeg", stage, "missing_output")
		r.logger.Warn("转码命令未生成输出文件", zap.String("stage", stage), zap.String("output", cmd.Output))
		return fmt.Errorf("%w: %s", ErrMissingOutput, cmd.Output)
	}

	metrics.RecordCommandExecution("ffmpeg", stage, "success")
	return nil
}

// Probe 获取媒体真实时长（秒）
func (r *Runner) Probe(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrProbe, path, err)
	}

	resp, err := r.exec.Execute(ctx, CommandRequest{
		Command: r.cfg.FFprobe,
		Args:    []string{"-v", "quiet", "-show_entries", "format=duration", "-of", "csv=p=0", path},
		Timeout: r.cfg.ProbeTimeout,
	})
	metrics.RecordCommandDuration("ffprobe", "probe", resp.Duration.Seconds())
	if err != nil {
		metrics.RecordCommandExecution("ffprobe", "probe", "failed")
		return 0, fmt.Errorf("%w: %s: %v", ErrProbe, path, err)
	}
	metrics.RecordCommandExecution("ffprobe", "probe", "success")

	duration, err := strconv.ParseFloat(strings.TrimSpace(resp.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrProbe, path, err)
	}
	return duration, nil
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
