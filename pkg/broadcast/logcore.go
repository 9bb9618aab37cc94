package broadcast

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCore 把日志条目转发到广播服务的 zapcore.Core，配合 zapcore.NewTee 使用
type LogCore struct {
	zapcore.LevelEnabler
	svc      *BroadcastService
	toolName string
	enc      zapcore.Encoder
}

// NewLogCore 创建广播日志 Core。toolName 为空时使用 logger 名称。
func NewLogCore(svc *BroadcastService, toolName string, level zapcore.LevelEnabler) *LogCore {
	if level == nil {
		level = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.LevelKey = ""
	return &LogCore{
		LevelEnabler: level,
		svc:          svc,
		toolName:     toolName,
		enc:          zapcore.NewConsoleEncoder(cfg),
	}
}

// With 添加字段并返回新的Core
func (c *LogCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &LogCore{LevelEnabler: c.LevelEnabler, svc: c.svc, toolName: c.toolName, enc: c.enc.Clone()}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

// Check 检查日志级别是否启用
func (c *LogCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

// Write 编码并广播
func (c *LogCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	message := strings.TrimSpace(buf.String())
	buf.Free()

	name := c.toolName
	if name == "" {
		name = entry.LoggerName
	}
	typ := TypeLog
	if entry.Level >= zapcore.WarnLevel {
		typ = TypeError
	}
	c.svc.publish(Message{
		ToolName:  name,
		Type:      typ,
		Message:   message,
		Timestamp: entry.Time.Format(time.RFC3339),
	})
	return nil
}

// Sync 无缓冲，无需刷新
func (c *LogCore) Sync() error { return nil }
