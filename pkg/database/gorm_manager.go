// Package database 用 sqlite 记录每次运行、每个产物与每个步骤的状态和耗时
package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("run not found")

// GormManager 运行记录库
type GormManager struct {
	DB  *gorm.DB
	now func() time.Time
}

// NewGormManager 打开（或创建）记录库并迁移表结构。path 为空时使用应用数据目录；
// 以 "file:" 开头的 path 按原样作为 DSN（测试用内存库）。
func NewGormManager(log *zap.Logger, path string) (*GormManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		p, err := GetDatabasePath()
		if err != nil {
			return nil, fmt.Errorf("failed to get database path: %v", err)
		}
		path = p
	}

	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on", path)
	}

	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %v", err)
	}

	manager := &GormManager{DB: db, now: time.Now}
	if err := manager.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}
	return manager, nil
}

// Migrate 执行数据库迁移
func (gm *GormManager) Migrate() error {
	return gm.DB.AutoMigrate(&Run{}, &RunItem{}, &RunStep{})
}

// Close 关闭数据库连接
func (gm *GormManager) Close() error {
	sqlDB, err := gm.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun 创建运行记录，状态为 processing
func (gm *GormManager) StartRun(runID, kind string, total int) error {
	now := gm.now()
	run := &Run{RunID: runID, Kind: kind, Status: StatusProcessing, Total: total, StartTime: &now}
	if err := gm.DB.Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run: %v", err)
	}
	return nil
}

// FinishRun 写入运行结果。errMsg 非空或存在失败项时状态为 failed。
func (gm *GormManager) FinishRun(runID string, succeeded, failed int, errMsg string) error {
	run, err := gm.findRun(runID)
	if err != nil {
		return err
	}
	now := gm.now()
	updates := map[string]any{
		"status":    statusOf(errMsg == "" && failed == 0),
		"error_msg": errMsg,
		"succeeded": succeeded,
		"failed":    failed,
		"end_time":  now,
	}
	if run.StartTime != nil {
		updates["duration_ms"] = now.Sub(*run.StartTime).Milliseconds()
	}
	if err := gm.DB.Model(run).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update run: %v", err)
	}
	return nil
}

// StartItem 创建产物记录
func (gm *GormManager) StartItem(runID, itemID string) error {
	run, err := gm.findRun(runID)
	if err != nil {
		return err
	}
	now := gm.now()
	item := &RunItem{RunRef: run.ID, ItemID: itemID, Status: StatusProcessing, StartTime: &now}
	if err := gm.DB.Create(item).Error; err != nil {
		return fmt.Errorf("failed to create run item: %v", err)
	}
	return nil
}

// FinishItem 写入产物结果
func (gm *GormManager) FinishItem(runID, itemID string, ok bool, output, errMsg string) error {
	item, err := gm.findItem(runID, itemID)
	if err != nil {
		return err
	}
	now := gm.now()
	updates := map[string]any{
		"status":      statusOf(ok),
		"error_msg":   errMsg,
		"output_path": output,
		"end_time":    now,
	}
	if item.StartTime != nil {
		updates["duration_ms"] = now.Sub(*item.StartTime).Milliseconds()
	}
	if err := gm.DB.Model(item).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update run item: %v", err)
	}
	return nil
}

// RecordStep 追加一条已结束的步骤记录。stepErr 为 nil 表示成功。
func (gm *GormManager) RecordStep(runID, itemID, step string, started time.Time, stepErr error, details string) error {
	item, err := gm.findItem(runID, itemID)
	if err != nil {
		return err
	}
	now := gm.now()
	rec := &RunStep{
		ItemRef:    item.ID,
		StepName:   step,
		Status:     statusOf(stepErr == nil),
		StartTime:  started,
		EndTime:    now,
		DurationMs: now.Sub(started).Milliseconds(),
		Details:    details,
	}
	if stepErr != nil {
		rec.ErrorMsg = stepErr.Error()
	}
	if err := gm.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create step: %v", err)
	}
	return nil
}

// GetRun 读取运行记录及其产物与步骤
func (gm *GormManager) GetRun(runID string) (*Run, error) {
	var run Run
	err := gm.DB.Preload("Items.Steps").First(&run, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %v", err)
	}
	return &run, nil
}

// ListRuns 最近的运行记录，不含明细
func (gm *GormManager) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	if err := gm.DB.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %v", err)
	}
	return runs, nil
}

// RetryItem 把失败的产物及其步骤重置为 pending，返回是否找到可重试的记录
func (gm *GormManager) RetryItem(runID, itemID string) (bool, error) {
	item, err := gm.findItem(runID, itemID)
	if err != nil {
		return false, err
	}
	if item.Status != StatusFailed {
		return false, nil
	}
	return true, gm.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(item).Updates(map[string]any{"status": StatusPending, "error_msg": ""}).Error; err != nil {
			return err
		}
		return tx.Where("item_ref = ? AND status = ?", item.ID, StatusFailed).Delete(&RunStep{}).Error
	})
}

func (gm *GormManager) findRun(runID string) (*Run, error) {
	var run Run
	err := gm.DB.First(&run, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (gm *GormManager) findItem(runID, itemID string) (*RunItem, error) {
	run, err := gm.findRun(runID)
	if err != nil {
		return nil, err
	}
	var item RunItem
	if err := gm.DB.Where("run_ref = ? AND item_id = ?", run.ID, itemID).Order("id desc").First(&item).Error; err != nil {
		return nil, fmt.Errorf("failed to find item %s: %v", itemID, err)
	}
	return &item, nil
}
