package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCommandExecution(t *testing.T) {
	commandExecutionTotal.Reset()

	RecordCommandExecution("ffmpeg", "tempo", "success")
	RecordCommandExecution("ffmpeg", "tempo", "success")

	metric := &dto.Metric{}
	require.NoError(t, commandExecutionTotal.WithLabelValues("ffmpeg", "tempo", "success").Write(metric))
	assert.Equal(t, 2.0, metric.Counter.GetValue())
}

func TestRecordFallback(t *testing.T) {
	fallbacksTotal.Reset()

	RecordFallback("xfade")

	metric := &dto.Metric{}
	require.NoError(t, fallbacksTotal.WithLabelValues("xfade").Write(metric))
	assert.Equal(t, 1.0, metric.Counter.GetValue())
}

func TestRecordBatchItem(t *testing.T) {
	batchItemsTotal.Reset()

	RecordBatchItem("chapter_audio", "success")
	RecordBatchItem("chapter_audio", "failed")
	RecordBatchItem("chapter_audio", "success")

	metric := &dto.Metric{}
	require.NoError(t, batchItemsTotal.WithLabelValues("chapter_audio", "success").Write(metric))
	assert.Equal(t, 2.0, metric.Counter.GetValue())
}

func TestRecordCommandDuration(t *testing.T) {
	commandExecutionDuration.Reset()

	RecordCommandDuration("ffmpeg", "concat", 1.5)
	RecordCommandDuration("ffprobe", "probe", 0.05)
}
