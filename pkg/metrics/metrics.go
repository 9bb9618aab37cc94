// Package metrics 提供时间线合成引擎的 Prometheus 指标
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// commandExecutionTotal 外部转码命令执行次数
	// 标签:
	//   - command: ffmpeg / ffprobe
	//   - stage: 调用方阶段（tempo、concat、xfade、mix ...）
	//   - status: success / failed / timeout / missing_output
	commandExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tse_command_executions_total",
			Help: "Total number of transcoder command executions",
		},
		[]string{"command", "stage", "status"},
	)

	// commandExecutionDuration 外部转码命令耗时
	commandExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tse_command_duration_seconds",
			Help:    "Duration of transcoder command executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"command", "stage"},
	)

	// fallbacksTotal 降级次数（原样返回输入或改用更简单的策略）
	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tse_fallbacks_total",
			Help: "Total number of degraded stages that fell back to a simpler artifact",
		},
		[]string{"stage"},
	)

	// batchItemsTotal 批处理条目结果
	batchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tse_batch_items_total",
			Help: "Total number of batch items processed, by operation and outcome",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(commandExecutionTotal)
	prometheus.MustRegister(commandExecutionDuration)
	prometheus.MustRegister(fallbacksTotal)
	prometheus.MustRegister(batchItemsTotal)
}

// RecordCommandExecution 记录一次命令执行
func RecordCommandExecution(command, stage, status string) {
	commandExecutionTotal.WithLabelValues(command, stage, status).Inc()
}

// RecordCommandDuration 记录命令耗时（秒）
func RecordCommandDuration(command, stage string, durationSeconds float64) {
	commandExecutionDuration.WithLabelValues(command, stage).Observe(durationSeconds)
}

// RecordFallback 记录一次降级
func RecordFallback(stage string) {
	fallbacksTotal.WithLabelValues(stage).Inc()
}

// RecordBatchItem 记录批处理条目结果，status 为 success 或 failed
func RecordBatchItem(operation, status string) {
	batchItemsTotal.WithLabelValues(operation, status).Inc()
}
