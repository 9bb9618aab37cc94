package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CommandRequest 一次外部进程调用
type CommandRequest struct {
	// Command 可执行文件名或别名（ffmpeg、ffprobe）
	Command    string        `json:"command"`
	Args       []string      `json:"args"`
	WorkingDir string        `json:"working_dir,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// CommandResponse 进程执行结果
type CommandResponse struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration_ms"`
}

// Executor 执行外部命令的抽象，测试中使用 ffmpegtest.FakeExecutor 替换
type Executor interface {
	Execute(ctx context.Context, req CommandRequest) (CommandResponse, error)
}

// LocalExecutor 在本机直接执行命令
type LocalExecutor struct {
	binaryPaths    map[string]string
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewLocalExecutor 创建本地执行器，binaryPaths 为命令名到可执行文件路径的映射
func NewLocalExecutor(logger *zap.Logger, binaryPaths map[string]string, defaultTimeout time.Duration) *LocalExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExecutor{
		binaryPaths:    binaryPaths,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Execute 执行命令；超时后杀掉整个进程组并返回 ErrTimeout
func (e *LocalExecutor) Execute(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	binaryPath, err := e.resolveBinaryPath(req.Command)
	if err != nil {
		return CommandResponse{ExitCode: -1}, fmt.Errorf("找不到可执行文件 %s: %w", req.Command, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binaryPath, req.Args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	resp := CommandResponse{
		Success:  err == nil,
		ExitCode: exitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		e.logger.Warn("外部命令超时", zap.String("command", req.Command), zap.Duration("timeout", timeout))
		return resp, fmt.Errorf("%w (%v): %s", ErrTimeout, timeout, req.Command)
	}
	if err != nil {
		return resp, fmt.Errorf("%w: %s exit %d: %v", ErrCommandFailed, req.Command, resp.ExitCode, err)
	}
	return resp, nil
}

// HealthCheck 检查配置的可执行文件是否可用
func (e *LocalExecutor) HealthCheck(commands ...string) error {
	for _, c := range commands {
		if _, err := e.resolveBinaryPath(c); err != nil {
			return fmt.Errorf("%s 不可用: %w", c, err)
		}
	}
	return nil
}

func (e *LocalExecutor) resolveBinaryPath(command string) (string, error) {
	if path, ok := e.binaryPaths[command]; ok && path != "" {
		return exec.LookPath(path)
	}
	return exec.LookPath(command)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
