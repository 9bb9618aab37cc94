package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/internal/mcp"
	"github.com/beewebpro/new-sumotech-sub000/pkg/broadcast"
	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg/ffmpegtest"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
)

type fixture struct {
	server *Server
	fake   *ffmpegtest.FakeExecutor
	store  *progress.Store
	hub    *broadcast.BroadcastService
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Workflow.WorkRoot = filepath.Join(dir, "work")
	cfg.Workflow.OutputRoot = filepath.Join(dir, "output")

	store := progress.NewStore(time.Hour)
	hub := broadcast.NewBroadcastService(64)
	go hub.Start(nil)
	t.Cleanup(hub.Close)

	fake := ffmpegtest.New()
	p, err := workflow.NewProcessor(zap.NewNop(), cfg, workflow.Deps{
		Runner:   ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{}),
		Reporter: progress.Multi{store, hub},
	})
	require.NoError(t, err)

	s := NewServer(p, zap.NewNop(), store, hub, []mcp.ToolInfo{{Name: "allocate_scene_durations", Description: "allocate"}})
	t.Cleanup(s.Wait)
	return &fixture{server: s, fake: fake, store: store, hub: hub, dir: dir}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) chunk(t *testing.T, name string, d float64) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, []byte("media"), 0644))
	f.fake.SetDuration(p, d)
	return p
}

func TestToolsRoute(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "allocate_scene_durations")
}

func TestSegmentRoute(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/segment", map[string]any{
		"entries": []map[string]any{
			{"text": "Hello there.", "start": 0, "duration": 2},
			{"text": "Much later.", "start": 8, "duration": 1.5},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Segments []struct {
			Text string `json:"text"`
		} `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Segments, 2)
	assert.Equal(t, "Much later.", out.Segments[1].Text)
}

func TestAllocateRoute(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/allocate", map[string]any{
		"texts": []string{"short", "a much longer piece of text"},
		"total": 20.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Durations []float64 `json:"durations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Durations, 2)
	assert.InDelta(t, 20.0, out.Durations[0]+out.Durations[1], 1e-6)

	bad := f.do(t, http.MethodPost, "/api/allocate", map[string]any{"texts": []string{}, "total": 5.0})
	assert.Equal(t, http.StatusUnprocessableEntity, bad.Code)
}

func TestBatchChapterAudioRouteWait(t *testing.T) {
	f := newFixture(t)
	a := f.chunk(t, "a.mp3", 2)
	w := f.do(t, http.MethodPost, "/api/batch/chapter-audio?wait=true", map[string]any{
		"job_id": "web-batch",
		"chapters": []workflow.ChapterAudioRequest{
			{ChapterID: "1", ChunkAudio: []string{a}},
			{ChapterID: "2", ChunkAudio: []string{filepath.Join(f.dir, "gone.mp3")}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		JobID  string               `json:"job_id"`
		Result workflow.BatchResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "web-batch", out.JobID)
	assert.Equal(t, 2, out.Result.Total)
	assert.Equal(t, []string{"2"}, out.Result.FailedIDs())

	progressResp := f.do(t, http.MethodGet, "/api/progress/web-batch", nil)
	var u progress.Update
	require.NoError(t, json.Unmarshal(progressResp.Body.Bytes(), &u))
	assert.Equal(t, progress.StatusCompleted, u.Status)
	assert.Equal(t, 100, u.Percent)

	metrics := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "tse_batch_items_total")
}

func TestBatchChapterAudioRouteBackground(t *testing.T) {
	f := newFixture(t)
	a := f.chunk(t, "a.mp3", 2)
	w := f.do(t, http.MethodPost, "/api/batch/chapter-audio", map[string]any{
		"chapters": []workflow.ChapterAudioRequest{{ChapterID: "1", ChunkAudio: []string{a}}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var out struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.JobID)

	assert.Eventually(t, func() bool {
		return f.store.Get(out.JobID).Status == progress.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJobRouteReturnsBackgroundBatchResult(t *testing.T) {
	f := newFixture(t)
	a := f.chunk(t, "a.mp3", 2)
	w := f.do(t, http.MethodPost, "/api/batch/chapter-audio", map[string]any{
		"job_id": "async-batch",
		"chapters": []workflow.ChapterAudioRequest{
			{ChapterID: "1", ChunkAudio: []string{a}},
			{ChapterID: "2", ChunkAudio: []string{filepath.Join(f.dir, "gone.mp3")}},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	type jobResponse struct {
		JobID  string               `json:"job_id"`
		Status progress.Status      `json:"status"`
		Result workflow.BatchResult `json:"result"`
	}
	var out jobResponse
	require.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, "/api/jobs/async-batch", nil)
		if resp.Code != http.StatusOK {
			return false
		}
		out = jobResponse{}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
		return out.Result.Total > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "async-batch", out.JobID)
	assert.Equal(t, progress.StatusCompleted, out.Status)
	assert.Equal(t, 2, out.Result.Total)
	assert.Equal(t, 1, out.Result.Success)
	assert.Equal(t, 1, out.Result.Failed)
	require.Len(t, out.Result.Results, 2)
	assert.Equal(t, "2", out.Result.Results[1].ID)
	assert.NotEmpty(t, out.Result.Results[1].Error)
}

func TestJobRouteUnknownJob(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProgressRouteUnknownJob(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/progress/nope", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(progress.StatusIdle))
}

func TestDescriptionRouteRequiresText(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/description-video", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.SendLog("segment_transcript", "hello")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg broadcast.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "segment_transcript", msg.ToolName)
	assert.Equal(t, broadcast.TypeLog, msg.Type)
	assert.Equal(t, "hello", msg.Message)
}
