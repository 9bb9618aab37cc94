// Package selfcheck 启动前检查转码器、服务商与工作目录是否可用
package selfcheck

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/database"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/provider"
)

// Result 单项检查结果。Required 为 false 的项失败时流水线会走回退。
type Result struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Error    string `json:"error,omitempty"`
}

// OK 检查是否通过
func (r Result) OK() bool { return r.Error == "" }

type check struct {
	name     string
	required bool
	fn       func(ctx context.Context) error
}

// Checker 自检
type Checker struct {
	logger *zap.Logger
	cfg    *config.Config
	client *http.Client
	exec   *ffmpeg.LocalExecutor
}

// New 创建自检器
func New(logger *zap.Logger, cfg *config.Config) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		logger: logger,
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		exec: ffmpeg.NewLocalExecutor(logger, map[string]string{
			"ffmpeg":  cfg.FFmpeg.Path,
			"ffprobe": cfg.FFmpeg.ProbePath,
		}, 10*time.Second),
	}
}

// Run 执行所有检查
func (c *Checker) Run(ctx context.Context) []Result {
	checks := []check{
		{"ffmpeg", true, func(ctx context.Context) error { return c.binary(ctx, "ffmpeg") }},
		{"ffprobe", true, func(ctx context.Context) error { return c.binary(ctx, "ffprobe") }},
		{"工作目录", true, func(context.Context) error { return writable(c.cfg.Workflow.WorkRoot) }},
		{"输出目录", true, func(context.Context) error { return writable(c.cfg.Workflow.OutputRoot) }},
		{"文本模型", false, c.text},
		{"语音服务", true, c.speech},
		{"图片服务", false, c.image},
	}
	if c.cfg.Database.Enabled {
		checks = append(checks, check{"运行记录库", false, c.database})
	}

	results := make([]Result, 0, len(checks))
	for _, ch := range checks {
		r := Result{Name: ch.name, Required: ch.required}
		if err := ch.fn(ctx); err != nil {
			r.Error = err.Error()
			c.logger.Warn("自检未通过", zap.String("check", ch.name), zap.Error(err))
		}
		results = append(results, r)
	}
	return results
}

// Failed 未通过的必需项
func Failed(results []Result) []string {
	var names []string
	for _, r := range results {
		if r.Required && !r.OK() {
			names = append(names, r.Name)
		}
	}
	return names
}

func (c *Checker) binary(ctx context.Context, name string) error {
	if err := c.exec.HealthCheck(name); err != nil {
		return err
	}
	resp, err := c.exec.Execute(ctx, ffmpeg.CommandRequest{Command: name, Args: []string{"-version"}})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s -version 退出码 %d", name, resp.ExitCode)
	}
	return nil
}

func (c *Checker) text(ctx context.Context) error {
	name := strings.TrimSpace(c.cfg.AI.Provider)
	if name == "" || strings.EqualFold(name, "none") {
		return nil
	}
	kind, err := provider.ParseKind(name)
	if err != nil {
		return err
	}
	switch kind {
	case provider.KindOllama:
		return c.reachable(ctx, strings.TrimRight(c.cfg.AI.OllamaURL, "/")+"/api/tags")
	case provider.KindGemini:
		if c.cfg.AI.GeminiAPIKey == "" {
			return fmt.Errorf("未配置 gemini_api_key")
		}
	}
	return nil
}

func (c *Checker) speech(ctx context.Context) error {
	kind, err := provider.ParseKind(c.cfg.Speech.Provider)
	if err != nil {
		return err
	}
	if kind == provider.KindMock {
		return nil
	}
	if c.cfg.Speech.BaseURL == "" {
		return fmt.Errorf("%s 未配置 base_url", kind)
	}
	return nil
}

func (c *Checker) image(ctx context.Context) error {
	kind, err := provider.ParseKind(c.cfg.Image.Provider)
	if err != nil {
		return err
	}
	if kind == provider.KindDrawThings {
		return c.reachable(ctx, c.cfg.Image.DrawThingsURL)
	}
	return nil
}

func (c *Checker) database(context.Context) error {
	db, err := database.NewGormManager(c.logger, c.cfg.Database.Path)
	if err != nil {
		return err
	}
	return db.Close()
}

func (c *Checker) reachable(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("状态码: %d", resp.StatusCode)
	}
	return nil
}

func writable(dir string) error {
	if dir == "" {
		return fmt.Errorf("未配置目录")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".selfcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}
