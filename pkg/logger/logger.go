// Package logger 构造全局 zap 日志：控制台输出 + 按大小滚动的 JSON 文件
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
)

// New 根据配置创建日志器。extra 用于挂接额外的输出（例如 WebSocket 广播）。
func New(cfg config.LogConfig, extra ...zapcore.Core) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("无效的日志级别 %q: %w", cfg.Level, err)
		}
	}

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		writer := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(writer), level))
	}

	cores = append(cores, extra...)
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Must 同 New，失败时退回 zap.NewProduction
func Must(cfg config.LogConfig, extra ...zapcore.Core) *zap.Logger {
	l, err := New(cfg, extra...)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Warn("日志配置无效，使用默认日志器", zap.Error(err))
		return fallback
	}
	return l
}
