package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
)

func startService(t *testing.T) *BroadcastService {
	t.Helper()
	svc := NewBroadcastService(16)
	var wg sync.WaitGroup
	wg.Add(1)
	go svc.Start(&wg)
	t.Cleanup(func() {
		svc.Close()
		wg.Wait()
	})
	return svc
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m, ok := <-c.Send:
		require.True(t, ok, "client channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestReportFansOutProgress(t *testing.T) {
	svc := startService(t)
	a := svc.RegisterClient(nil)
	b := svc.RegisterClient(nil)

	svc.Report(progress.Update{JobID: "job1", Stage: "dub", Status: progress.StatusProcessing, Percent: 40, Message: "合成中"})

	for _, c := range []*Client{a, b} {
		m := receive(t, c)
		assert.Equal(t, TypeProgress, m.Type)
		assert.Equal(t, "dub", m.ToolName)
		require.NotNil(t, m.Progress)
		assert.Equal(t, 40, m.Progress.Percent)
		assert.Equal(t, "job1", m.Progress.JobID)
	}

	svc.Report(progress.Update{JobID: "job1", Stage: "dub", Status: progress.StatusError, Message: "失败"})
	assert.Equal(t, TypeError, receive(t, a).Type)
}

func TestLogCoreForwardsEntries(t *testing.T) {
	svc := startService(t)
	c := svc.RegisterClient(nil)

	log := zap.New(NewLogCore(svc, "", zapcore.InfoLevel)).Named("mixer")
	log.Debug("hidden")
	log.With(zap.String("stage", "mix_intro")).Warn("混音失败", zap.Int("attempt", 1))

	m := receive(t, c)
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, "mixer", m.ToolName)
	assert.Contains(t, m.Message, "混音失败")
	assert.Contains(t, m.Message, "mix_intro")
	assert.Contains(t, m.Message, `"attempt": 1`)
}

func TestUnregisterAndClose(t *testing.T) {
	svc := NewBroadcastService(4)
	var wg sync.WaitGroup
	wg.Add(1)
	go svc.Start(&wg)

	a := svc.RegisterClient(nil)
	b := svc.RegisterClient(nil)
	svc.UnregisterClient(a)
	_, ok := <-a.Send
	assert.False(t, ok)
	assert.Equal(t, 1, svc.ClientCount())

	svc.Close()
	svc.Close()
	wg.Wait()
	_, ok = <-b.Send
	assert.False(t, ok)

	late := svc.RegisterClient(nil)
	_, ok = <-late.Send
	assert.False(t, ok)
	svc.UnregisterClient(late)
}

func TestSlowClientIsDropped(t *testing.T) {
	svc := startService(t)
	svc.ClientBuffer = 1
	slow := svc.RegisterClient(nil)

	svc.SendMessage("batch", "one")
	svc.SendMessage("batch", "two")

	assert.Eventually(t, func() bool { return svc.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	m, ok := <-slow.Send
	require.True(t, ok)
	assert.Equal(t, "one", m.Message)
	_, ok = <-slow.Send
	assert.False(t, ok)
}
