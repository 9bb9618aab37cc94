package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/chunk"
	"github.com/beewebpro/new-sumotech-sub000/pkg/compose"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/subtitle"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workspace"
)

// DescriptionRequest 书籍简介视频
type DescriptionRequest struct {
	ID       string `json:"id,omitempty" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Category string `json:"category,omitempty" yaml:"category"`
	BookType string `json:"book_type,omitempty" yaml:"book_type"`
	Text     string `json:"text" yaml:"text"`
	Voice    Voice  `json:"voice,omitempty" yaml:"voice"`
	Intro    string `json:"intro,omitempty" yaml:"intro"`
	Outro    string `json:"outro,omitempty" yaml:"outro"`
	// BurnSubtitles 为 nil 时使用 subtitle.burn
	BurnSubtitles *bool  `json:"burn_subtitles,omitempty" yaml:"burn_subtitles"`
	Output        string `json:"output,omitempty" yaml:"output"`
}

// ChunkOutcome 单个分块的处理结果
type ChunkOutcome struct {
	Index    int     `json:"index"`
	Text     string  `json:"text"`
	Image    string  `json:"image,omitempty"`
	Audio    string  `json:"audio,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// DescriptionResult 简介视频结果
type DescriptionResult struct {
	ID           string           `json:"id"`
	Path         string           `json:"path"`
	SubtitlePath string           `json:"subtitle_path"`
	Duration     float64          `json:"duration"`
	Chunks       []ChunkOutcome   `json:"chunks"`
	Failed       int              `json:"failed"`
	UsedAI       bool             `json:"used_ai"`
	Transitions  bool             `json:"transitions"`
	BurnMode     compose.BurnMode `json:"burn_mode"`
	Mixed        bool             `json:"mixed"`
}

// GenerateDescriptionVideo 分块 ⇒ 每块配图与配音 ⇒ 每块字幕 ⇒ 每块片段 ⇒ 转场拼接 ⇒
// 合并字幕 ⇒ 烧录字幕 ⇒ 片头片尾混音。进度 0/20/80/100。
func (p *Processor) GenerateDescriptionVideo(ctx context.Context, req DescriptionRequest) (*DescriptionResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, finish := p.beginItem(ctx, "description_video", req.ID)
	res, err := p.generateDescriptionVideo(ctx, req)
	output := ""
	if res != nil {
		output = res.Path
	}
	finish(output, err)
	return res, err
}

func (p *Processor) generateDescriptionVideo(ctx context.Context, req DescriptionRequest) (*DescriptionResult, error) {
	tr := p.tracker(req.ID, "description_video")
	tr.Start("开始生成简介视频")

	if strings.TrimSpace(req.Text) == "" {
		tr.Fail("简介为空")
		return nil, fmt.Errorf("%w: %v", ErrNothingToCompose, chunk.ErrNoChunks)
	}

	var split chunk.Result
	err := p.step(ctx, "chunk", func() (string, error) {
		var err error
		split, err = p.chunker.Split(ctx, chunk.Source{Title: req.Title, Category: req.Category, BookType: req.BookType, Text: req.Text})
		return fmt.Sprintf("%d chunks, ai=%t", len(split.Chunks), split.UsedAI), err
	})
	if err != nil || len(split.Chunks) == 0 {
		tr.Fail("没有可用的分块")
		return nil, fmt.Errorf("%w: %v", ErrNothingToCompose, err)
	}
	tr.Step(20, fmt.Sprintf("分块完成，共 %d 块", len(split.Chunks)))

	ws, err := p.workspaces.Create("description")
	if err != nil {
		tr.Fail(err.Error())
		return nil, err
	}
	defer ws.Cleanup()

	result := &DescriptionResult{ID: req.ID, UsedAI: split.UsedAI}
	var (
		clips  []compose.Clip
		tracks []subtitle.ChunkTrack
	)
	for i, c := range split.Chunks {
		outcome, clip, track, err := p.describeChunk(ctx, ws, c, req.Voice)
		if err != nil {
			p.logger.Warn("分块处理失败，跳过", zap.Int("chunk", c.Index), zap.Error(err))
			outcome.Error = err.Error()
			result.Failed++
		} else {
			clips = append(clips, clip)
			tracks = append(tracks, subtitle.ChunkTrack{Track: track, ClipDuration: clip.Duration})
		}
		result.Chunks = append(result.Chunks, outcome)
		tr.Step(progress.Scale(20, 80, progress.Percent(i+1, len(split.Chunks))), fmt.Sprintf("分块 %d/%d 处理完成", i+1, len(split.Chunks)))
	}
	if len(clips) == 0 {
		tr.Fail("所有分块处理失败")
		return result, fmt.Errorf("%w: all %d chunks failed", ErrNothingToCompose, len(split.Chunks))
	}

	var composite compose.Composite
	err = p.step(ctx, "transitions", func() (string, error) {
		var err error
		composite, err = p.compositor.Compose(ctx, clips, ws.ClipDir, ws.Clip("composite.mp4"))
		return fmt.Sprintf("%d clips, fell_back=%t", len(clips), composite.FellBack), err
	})
	if err != nil {
		tr.Fail(err.Error())
		return result, fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	result.Transitions = !composite.FellBack && len(clips) > 1
	result.Duration = composite.Duration
	tr.Step(80, "转场拼接完成")

	merged := subtitle.Merge(tracks)
	srtPath := ws.Subtitle("description.srt")
	if err := subtitle.WriteFile(srtPath, merged); err != nil {
		p.logger.Warn("字幕写入失败", zap.Error(err))
	}

	current := composite.Path
	burn := p.cfg.Subtitle.Burn
	if req.BurnSubtitles != nil {
		burn = *req.BurnSubtitles
	}
	result.BurnMode = compose.BurnNone
	if burn {
		var burned compose.BurnResult
		_ = p.step(ctx, "subtitles", func() (string, error) {
			burned = p.burner.Burn(ctx, current, srtPath, ws.Clip("subtitled.mp4"))
			return string(burned.Mode), nil
		})
		current = burned.Path
		result.BurnMode = burned.Mode
	}
	tr.Step(90, "字幕处理完成")

	intro, outro := p.musicBeds(req.Intro, req.Outro)
	mix := p.mixer.AddIntroOutro(ctx, current, intro, outro, true, ws.Clip("final.mp4"))
	result.Mixed = mix.Mixed
	if mix.Mixed && mix.Duration > 0 {
		result.Duration = mix.Duration
	}

	output := req.Output
	if output == "" {
		output = p.outputPath("description", req.ID+".mp4")
	}
	if err := workspace.Publish(mix.Path, output); err != nil {
		tr.Fail(err.Error())
		return result, fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	result.Path = output

	srtOut := strings.TrimSuffix(output, ".mp4") + ".srt"
	if len(merged.Entries) > 0 {
		if err := workspace.Publish(srtPath, srtOut); err != nil {
			p.logger.Warn("字幕发布失败", zap.Error(err))
		} else {
			result.SubtitlePath = srtOut
		}
	}

	tr.Done("简介视频生成完成")
	p.logger.Info("简介视频生成完成",
		zap.String("id", req.ID),
		zap.Int("chunks", len(split.Chunks)),
		zap.Int("failed", result.Failed),
		zap.Float64("duration", result.Duration))
	return result, nil
}

// describeChunk 单个分块：配图、配音、测量时长、字幕、片段
func (p *Processor) describeChunk(ctx context.Context, ws *workspace.Workspace, c chunk.Chunk, voice Voice) (ChunkOutcome, compose.Clip, subtitle.Track, error) {
	outcome := ChunkOutcome{Index: c.Index, Text: c.Text}
	if p.images == nil {
		return outcome, compose.Clip{}, subtitle.Track{}, fmt.Errorf("%w: no image generator configured", ErrMissingAsset)
	}

	prompt := c.ImagePrompt
	if prompt == "" {
		prompt = chunk.DefaultImagePrompt(c.Text)
	}
	image := ws.Image(fmt.Sprintf("chunk_%03d.png", c.Index))
	err := p.step(ctx, "image", func() (string, error) {
		return fmt.Sprintf("chunk %d", c.Index), p.images.Generate(ctx, prompt, image)
	})
	if err != nil || !fileExists(image) {
		return outcome, compose.Clip{}, subtitle.Track{}, fmt.Errorf("%w: image for chunk %d: %v", ErrMissingAsset, c.Index, err)
	}
	outcome.Image = image

	audio := ws.Audio(fmt.Sprintf("chunk_%03d.mp3", c.Index))
	err = p.step(ctx, "speech", func() (string, error) {
		return fmt.Sprintf("chunk %d", c.Index), p.speech.Synthesize(ctx, p.speechRequest(c.Text, c.Index, voice), audio)
	})
	if err != nil || !fileExists(audio) {
		return outcome, compose.Clip{}, subtitle.Track{}, fmt.Errorf("%w: audio for chunk %d: %v", ErrMissingAsset, c.Index, err)
	}
	outcome.Audio = audio

	duration, err := p.runner.Probe(ctx, audio)
	if err != nil {
		return outcome, compose.Clip{}, subtitle.Track{}, err
	}
	outcome.Duration = duration

	track := p.subtitles.Synthesize(c.Text, duration)
	if err := subtitle.WriteFile(ws.Subtitle(fmt.Sprintf("chunk_%03d.srt", c.Index)), track); err != nil {
		p.logger.Warn("分块字幕写入失败", zap.Int("chunk", c.Index), zap.Error(err))
	}

	var clip compose.Clip
	err = p.step(ctx, "image_clip", func() (string, error) {
		var err error
		clip, err = p.media.ImageWithAudio(ctx, image, audio, duration, p.cfg.Video.ChunkZoom, ws.Clip(fmt.Sprintf("chunk_%03d.mp4", c.Index)))
		return fmt.Sprintf("%.3fs", clip.Duration), err
	})
	if err != nil {
		return outcome, compose.Clip{}, subtitle.Track{}, err
	}
	outcome.Duration = clip.Duration
	return outcome, clip, track, nil
}
