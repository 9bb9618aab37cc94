package selfcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.FFmpeg.Path = filepath.Join(dir, "no-such-ffmpeg")
	cfg.FFmpeg.ProbePath = filepath.Join(dir, "no-such-ffprobe")
	cfg.Workflow.WorkRoot = filepath.Join(dir, "work")
	cfg.Workflow.OutputRoot = filepath.Join(dir, "output")
	cfg.AI.Provider = "none"
	cfg.Speech.Provider = "mock"
	cfg.Image.Provider = "card"
	cfg.Database.Enabled = false
	return cfg
}

func byName(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.Name] = r
	}
	return m
}

func TestRunReportsMissingBinaries(t *testing.T) {
	cfg := testConfig(t)
	results := New(zap.NewNop(), cfg).Run(context.Background())

	assert.Equal(t, []string{"ffmpeg", "ffprobe"}, Failed(results))
	m := byName(results)
	assert.True(t, m["工作目录"].OK())
	assert.True(t, m["输出目录"].OK())
	assert.True(t, m["语音服务"].OK())
	assert.True(t, m["文本模型"].OK())
	assert.DirExists(t, cfg.Workflow.OutputRoot)
}

func TestRunChecksRemoteProviders(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.AI.Provider = "ollama"
	cfg.AI.OllamaURL = srv.URL + "/"
	cfg.Image.Provider = "drawthings"
	cfg.Image.DrawThingsURL = srv.URL
	cfg.Speech.Provider = "openai"
	cfg.Speech.BaseURL = ""

	m := byName(New(zap.NewNop(), cfg).Run(context.Background()))
	assert.True(t, m["文本模型"].OK())
	assert.True(t, m["图片服务"].OK())
	assert.False(t, m["语音服务"].OK())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "/api/tags")
}

func TestRunGeminiNeedsKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Provider = "gemini"
	cfg.AI.GeminiAPIKey = ""

	m := byName(New(zap.NewNop(), cfg).Run(context.Background()))
	require.False(t, m["文本模型"].OK())
	assert.False(t, m["文本模型"].Required)
}

func TestRunOpensDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true
	cfg.Database.Path = filepath.Join(t.TempDir(), "ledger.db")

	m := byName(New(zap.NewNop(), cfg).Run(context.Background()))
	assert.True(t, m["运行记录库"].OK(), m["运行记录库"].Error)
}
