package database

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel 包含公共字段
type BaseModel struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Run 一次流水线或批处理运行
type Run struct {
	BaseModel
	RunID      string        `json:"run_id" gorm:"uniqueIndex"`
	Kind       string        `json:"kind"` // dub, chapter_audio, chapter_video, description_video, scene_video
	Status     ProcessStatus `json:"status" gorm:"default:pending"`
	ErrorMsg   string        `json:"error_msg,omitempty"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	StartTime  *time.Time    `json:"start_time,omitempty"`
	EndTime    *time.Time    `json:"end_time,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Items      []RunItem     `json:"items" gorm:"foreignKey:RunRef"`
}

// RunItem 批处理中的一个独立产物（章节、片段）
type RunItem struct {
	BaseModel
	RunRef     uint          `json:"run_ref" gorm:"index"`
	ItemID     string        `json:"item_id" gorm:"index"`
	Status     ProcessStatus `json:"status" gorm:"default:pending"`
	ErrorMsg   string        `json:"error_msg,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	StartTime  *time.Time    `json:"start_time,omitempty"`
	EndTime    *time.Time    `json:"end_time,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Steps      []RunStep     `json:"steps" gorm:"foreignKey:ItemRef"`
}

// RunStep 产物内的一个处理步骤
type RunStep struct {
	BaseModel
	ItemRef    uint          `json:"item_ref" gorm:"index"`
	StepName   string        `json:"step_name"` // segment, speech, reconcile, assemble, compose, subtitles, mix ...
	Status     ProcessStatus `json:"status"`
	ErrorMsg   string        `json:"error_msg,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	DurationMs int64         `json:"duration_ms"`
	Details    string        `json:"details,omitempty"`
}
