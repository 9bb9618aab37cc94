package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/compose"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/subtitle"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workspace"
)

// SceneInput 一个场景：静态图片或视频素材二选一，Text 决定分配权重
type SceneInput struct {
	Image string `json:"image,omitempty" yaml:"image"`
	Video string `json:"video,omitempty" yaml:"video"`
	Text  string `json:"text,omitempty" yaml:"text"`
}

func (s SceneInput) source() string {
	if s.Video != "" {
		return s.Video
	}
	return s.Image
}

// SceneVideoRequest 场景幻灯片
type SceneVideoRequest struct {
	ID         string       `json:"id,omitempty" yaml:"id"`
	Scenes     []SceneInput `json:"scenes" yaml:"scenes"`
	Narration  string       `json:"narration" yaml:"narration"`
	Background string       `json:"background,omitempty" yaml:"background"`
	// Subtitles 可选 SRT，存在时烧录进成片
	Subtitles string `json:"subtitles,omitempty" yaml:"subtitles"`
	Output    string `json:"output,omitempty" yaml:"output"`
}

// SceneVideoResult 场景幻灯片结果
type SceneVideoResult struct {
	ID          string           `json:"id"`
	Path        string           `json:"path"`
	Duration    float64          `json:"duration"`
	Narration   float64          `json:"narration_duration"`
	Scenes      []compose.Scene  `json:"scenes"`
	Transitions bool             `json:"transitions"`
	BurnMode    compose.BurnMode `json:"burn_mode"`
	Mixed       bool             `json:"mixed"`
}

// PlanScenes 按文本长度把 narration 秒分给各场景。
// 分配总量为 narration + (N-1)×转场，转场吃掉重叠部分后成片恰好等于 narration。
func (p *Processor) PlanScenes(scenes []SceneInput, narration float64) ([]compose.Scene, error) {
	if len(scenes) == 0 {
		return nil, compose.ErrNoScenes
	}
	opts := p.AllocateOptions()
	texts := make([]string, len(scenes))
	for i, s := range scenes {
		texts[i] = s.Text
	}
	total := narration + float64(len(scenes)-1)*opts.TransitionDuration
	durations, err := compose.AllocateDurations(compose.TextWeights(texts), total, opts)
	if err != nil {
		return nil, err
	}
	planned := make([]compose.Scene, len(scenes))
	for i, s := range scenes {
		planned[i] = compose.Scene{ClipRef: s.source(), Text: s.Text, AllocatedDuration: durations[i]}
	}
	return planned, nil
}

// ComposeSceneVideo 场景素材 ⇒ 时长分配 ⇒ 静音片段 ⇒ 转场拼接 ⇒ 叠加旁白 ⇒ 背景音乐 ⇒ 字幕
func (p *Processor) ComposeSceneVideo(ctx context.Context, req SceneVideoRequest) (*SceneVideoResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, finish := p.beginItem(ctx, "scene_video", req.ID)
	res, err := p.composeSceneVideo(ctx, req)
	output := ""
	if res != nil {
		output = res.Path
	}
	finish(output, err)
	return res, err
}

func (p *Processor) composeSceneVideo(ctx context.Context, req SceneVideoRequest) (*SceneVideoResult, error) {
	tr := p.tracker(req.ID, "scene_video")
	tr.Start("开始生成场景视频")

	if len(req.Scenes) == 0 {
		tr.Fail("没有场景")
		return nil, fmt.Errorf("%w: %v", ErrNothingToCompose, compose.ErrNoScenes)
	}
	for i, s := range req.Scenes {
		src := s.source()
		if src == "" || !fileExists(src) {
			tr.Fail(fmt.Sprintf("场景 %d 素材不存在", i))
			return nil, fmt.Errorf("场景 %d: %w: %q", i, ErrMissingAsset, src)
		}
	}
	if !fileExists(req.Narration) {
		tr.Fail("旁白音频不存在")
		return nil, fmt.Errorf("旁白: %w: %q", ErrMissingAsset, req.Narration)
	}

	narration, err := p.runner.Probe(ctx, req.Narration)
	if err != nil {
		tr.Fail(err.Error())
		return nil, fmt.Errorf("测量旁白时长: %w", err)
	}
	scenes, err := p.PlanScenes(req.Scenes, narration)
	if err != nil {
		tr.Fail(err.Error())
		return nil, err
	}
	tr.Step(10, fmt.Sprintf("旁白 %.2fs，已分配 %d 个场景", narration, len(scenes)))

	ws, err := p.workspaces.Create("scene")
	if err != nil {
		tr.Fail(err.Error())
		return nil, err
	}
	defer ws.Cleanup()

	result := &SceneVideoResult{ID: req.ID, Narration: narration, Scenes: scenes}
	clips := make([]compose.Clip, 0, len(scenes))
	for i, s := range req.Scenes {
		out := ws.Clip(fmt.Sprintf("scene_%03d.mp4", i))
		var clip compose.Clip
		err := p.step(ctx, "scene_clip", func() (string, error) {
			var err error
			if s.Video != "" {
				clip, err = p.media.VideoSegment(ctx, s.Video, scenes[i].AllocatedDuration, out)
			} else {
				clip, err = p.media.SilentImage(ctx, s.Image, scenes[i].AllocatedDuration, p.cfg.Video.SceneZoom, out)
			}
			return fmt.Sprintf("scene %d %.3fs", i, scenes[i].AllocatedDuration), err
		})
		if err != nil {
			tr.Fail(err.Error())
			return result, fmt.Errorf("场景 %d: %w", i, err)
		}
		clips = append(clips, clip)
		tr.Step(progress.Scale(10, 70, progress.Percent(i+1, len(scenes))), fmt.Sprintf("场景 %d/%d 完成", i+1, len(scenes)))
	}

	var composite compose.Composite
	err = p.step(ctx, "transitions", func() (string, error) {
		var err error
		composite, err = p.compositor.Compose(ctx, clips, ws.ClipDir, ws.Clip("composite.mp4"))
		return fmt.Sprintf("%.3fs fell_back=%t", composite.Duration, composite.FellBack), err
	})
	if err != nil {
		tr.Fail(err.Error())
		return result, fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	result.Transitions = !composite.FellBack && len(clips) > 1
	tr.Step(75, "转场拼接完成")

	var muxed compose.Clip
	err = p.step(ctx, "narration", func() (string, error) {
		var err error
		muxed, err = p.media.MuxAudio(ctx, composite.Path, req.Narration, ws.Clip("narrated.mp4"))
		return fmt.Sprintf("%.3fs", muxed.Duration), err
	})
	if err != nil {
		tr.Fail(err.Error())
		return result, fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	result.Duration = muxed.Duration
	current := muxed.Path

	if music := p.backgroundMusic(req.Background); music != "" {
		mix := p.mixer.AddBackground(ctx, current, music, true, ws.Clip("background.mp4"))
		current = mix.Path
		result.Mixed = mix.Mixed
	}
	tr.Step(85, "音频处理完成")

	result.BurnMode = compose.BurnNone
	if strings.TrimSpace(req.Subtitles) != "" {
		if _, err := subtitle.ReadFile(req.Subtitles); err != nil {
			p.logger.Warn("字幕文件无法解析，跳过字幕", zap.String("srt", req.Subtitles), zap.Error(err))
		} else {
			burned := p.burner.Burn(ctx, current, req.Subtitles, ws.Clip("subtitled.mp4"))
			current = burned.Path
			result.BurnMode = burned.Mode
		}
	}

	output := req.Output
	if output == "" {
		output = p.outputPath("scenes", req.ID+".mp4")
	}
	if err := workspace.Publish(current, output); err != nil {
		tr.Fail(err.Error())
		return result, fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	result.Path = output

	tr.Done("场景视频生成完成")
	p.logger.Info("场景视频生成完成",
		zap.String("id", req.ID),
		zap.Int("scenes", len(scenes)),
		zap.Float64("narration", narration),
		zap.Float64("duration", result.Duration))
	return result, nil
}
