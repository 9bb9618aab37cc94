package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest 批量渲染任务清单。相对路径以清单文件所在目录为基准。
type Manifest struct {
	JobID        string                `yaml:"job_id" json:"job_id,omitempty"`
	ChapterAudio []ChapterAudioRequest `yaml:"chapter_audio" json:"chapter_audio,omitempty"`
	ChapterVideo []ChapterVideoRequest `yaml:"chapter_video" json:"chapter_video,omitempty"`
	Description  []DescriptionRequest  `yaml:"description" json:"description,omitempty"`
	SceneVideo   []SceneVideoRequest   `yaml:"scene_video" json:"scene_video,omitempty"`
	Dub          []DubRequest          `yaml:"dub" json:"dub,omitempty"`
}

// Empty 清单中没有任何任务
func (m *Manifest) Empty() bool {
	return len(m.ChapterAudio)+len(m.ChapterVideo)+len(m.Description)+len(m.SceneVideo)+len(m.Dub) == 0
}

// LoadManifest 读取并解析 YAML 清单
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析清单失败: %w", err)
	}
	m.resolve(filepath.Dir(path))
	return &m, nil
}

func (m *Manifest) resolve(base string) {
	abs := func(p string) string {
		if p == "" || p == "-" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range m.ChapterAudio {
		r := &m.ChapterAudio[i]
		for j := range r.ChunkAudio {
			r.ChunkAudio[j] = abs(r.ChunkAudio[j])
		}
		r.Intro, r.Outro, r.Output = abs(r.Intro), abs(r.Outro), abs(r.Output)
	}
	for i := range m.ChapterVideo {
		r := &m.ChapterVideo[i]
		r.Image, r.Audio, r.Background, r.Output = abs(r.Image), abs(r.Audio), abs(r.Background), abs(r.Output)
	}
	for i := range m.Description {
		r := &m.Description[i]
		r.Intro, r.Outro, r.Output = abs(r.Intro), abs(r.Outro), abs(r.Output)
	}
	for i := range m.SceneVideo {
		r := &m.SceneVideo[i]
		for j := range r.Scenes {
			r.Scenes[j].Image = abs(r.Scenes[j].Image)
			r.Scenes[j].Video = abs(r.Scenes[j].Video)
		}
		r.Narration, r.Background, r.Subtitles, r.Output = abs(r.Narration), abs(r.Background), abs(r.Subtitles), abs(r.Output)
	}
	for i := range m.Dub {
		m.Dub[i].Output = abs(m.Dub[i].Output)
	}
}

// ManifestReport 清单中各部分的批处理结果
type ManifestReport struct {
	ChapterAudio *BatchResult `json:"chapter_audio,omitempty"`
	ChapterVideo *BatchResult `json:"chapter_video,omitempty"`
	Description  *BatchResult `json:"description,omitempty"`
	SceneVideo   *BatchResult `json:"scene_video,omitempty"`
	Dub          *BatchResult `json:"dub,omitempty"`
}

// Failed 所有部分失败条目之和
func (r ManifestReport) Failed() int {
	n := 0
	for _, b := range []*BatchResult{r.ChapterAudio, r.ChapterVideo, r.Description, r.SceneVideo, r.Dub} {
		if b != nil {
			n += b.Failed
		}
	}
	return n
}

// RunManifest 依次执行清单中的各部分。章节音频先于章节视频，后者可以引用前者的输出。
func (p *Processor) RunManifest(ctx context.Context, m *Manifest) ManifestReport {
	var report ManifestReport
	section := func(name string) string {
		if m.JobID == "" {
			return ""
		}
		return m.JobID + "_" + name
	}

	if len(m.ChapterAudio) > 0 {
		res := p.BatchChapterAudios(ctx, section("chapter_audio"), m.ChapterAudio)
		report.ChapterAudio = &res
	}
	if len(m.ChapterVideo) > 0 {
		res := p.BatchChapterVideos(ctx, section("chapter_video"), m.ChapterVideo)
		report.ChapterVideo = &res
	}
	if len(m.Description) > 0 {
		jobs := make([]Job, len(m.Description))
		for i, req := range m.Description {
			if req.ID == "" {
				req.ID = fmt.Sprintf("description_%d", i+1)
			}
			jobs[i] = Job{ID: req.ID, Run: func(ctx context.Context) (ItemResult, error) {
				res, err := p.GenerateDescriptionVideo(ctx, req)
				if err != nil {
					return ItemResult{}, err
				}
				return ItemResult{Output: res.Path, Duration: res.Duration, Result: res}, nil
			}}
		}
		res := p.RunBatch(ctx, "description_video", section("description"), jobs)
		report.Description = &res
	}
	if len(m.SceneVideo) > 0 {
		jobs := make([]Job, len(m.SceneVideo))
		for i, req := range m.SceneVideo {
			if req.ID == "" {
				req.ID = fmt.Sprintf("scene_%d", i+1)
			}
			jobs[i] = Job{ID: req.ID, Run: func(ctx context.Context) (ItemResult, error) {
				res, err := p.ComposeSceneVideo(ctx, req)
				if err != nil {
					return ItemResult{}, err
				}
				return ItemResult{Output: res.Path, Duration: res.Duration, Result: res}, nil
			}}
		}
		res := p.RunBatch(ctx, "scene_video", section("scene_video"), jobs)
		report.SceneVideo = &res
	}
	if len(m.Dub) > 0 {
		jobs := make([]Job, len(m.Dub))
		for i, req := range m.Dub {
			if req.ID == "" {
				req.ID = fmt.Sprintf("dub_%d", i+1)
			}
			jobs[i] = Job{ID: req.ID, Run: func(ctx context.Context) (ItemResult, error) {
				res, err := p.DubTranscript(ctx, req)
				if err != nil {
					return ItemResult{}, err
				}
				return ItemResult{Output: res.Path, Duration: res.Duration, Result: res}, nil
			}}
		}
		res := p.RunBatch(ctx, "dub", section("dub"), jobs)
		report.Dub = &res
	}
	return report
}
