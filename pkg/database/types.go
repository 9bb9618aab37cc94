package database

// ProcessStatus 表示处理状态
type ProcessStatus string

const (
	StatusPending    ProcessStatus = "pending"    // 待处理
	StatusProcessing ProcessStatus = "processing" // 处理中
	StatusCompleted  ProcessStatus = "completed"  // 已完成
	StatusFailed     ProcessStatus = "failed"     // 失败
	StatusSkipped    ProcessStatus = "skipped"    // 跳过
)

// Terminal 是否为终态
func (s ProcessStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// statusOf 成功与否映射到终态
func statusOf(ok bool) ProcessStatus {
	if ok {
		return StatusCompleted
	}
	return StatusFailed
}
