// Package workspace 为每次运行分配独立的临时目录
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workspace 一次运行独占的临时目录及其子目录
type Workspace struct {
	RunID       string
	Root        string
	AudioDir    string
	SubtitleDir string
	ImageDir    string
	ClipDir     string

	logger *zap.Logger
	keep   bool
}

// Manager 在 base 下创建工作目录
type Manager struct {
	base   string
	keep   bool
	logger *zap.Logger
}

// NewManager keep 为 true 时 Cleanup 保留目录，便于排查
func NewManager(logger *zap.Logger, base string, keep bool) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base == "" {
		base = filepath.Join(os.TempDir(), "timeline-synth")
	}
	return &Manager{base: base, keep: keep, logger: logger}
}

// Create 新建工作目录，目录名为 <label>_<runID>
func (m *Manager) Create(label string) (*Workspace, error) {
	runID := uuid.NewString()
	name := runID
	if label != "" {
		name = label + "_" + runID
	}
	root := filepath.Join(m.base, name)

	ws := &Workspace{
		RunID:       runID,
		Root:        root,
		AudioDir:    filepath.Join(root, "audio"),
		SubtitleDir: filepath.Join(root, "subtitles"),
		ImageDir:    filepath.Join(root, "images"),
		ClipDir:     filepath.Join(root, "clips"),
		logger:      m.logger,
		keep:        m.keep,
	}
	for _, dir := range []string{ws.AudioDir, ws.SubtitleDir, ws.ImageDir, ws.ClipDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建工作目录失败 %s: %w", dir, err)
		}
	}
	m.logger.Debug("创建工作目录", zap.String("root", root))
	return ws, nil
}

// Path 工作目录下的文件路径
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Root, name)
}

// Audio 音频子目录下的文件路径
func (w *Workspace) Audio(name string) string { return filepath.Join(w.AudioDir, name) }

// Subtitle 字幕子目录下的文件路径
func (w *Workspace) Subtitle(name string) string { return filepath.Join(w.SubtitleDir, name) }

// Image 图片子目录下的文件路径
func (w *Workspace) Image(name string) string { return filepath.Join(w.ImageDir, name) }

// Clip 片段子目录下的文件路径
func (w *Workspace) Clip(name string) string { return filepath.Join(w.ClipDir, name) }

// Cleanup 删除整个工作目录。成功与失败路径都应调用。
func (w *Workspace) Cleanup() {
	if w == nil || w.keep {
		return
	}
	if err := os.RemoveAll(w.Root); err != nil {
		w.logger.Warn("清理工作目录失败", zap.String("root", w.Root), zap.Error(err))
	}
}

// SaveJSON 以缩进格式写入 JSON，必要时创建父目录
func SaveJSON(path string, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入JSON文件失败: %w", err)
	}
	return nil
}

// Publish 把工作目录中的成品移动到 dest；跨设备时退化为复制
func Publish(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("读取成品失败: %w", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("写入成品失败: %w", err)
	}
	return os.Remove(src)
}
