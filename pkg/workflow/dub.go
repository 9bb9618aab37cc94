package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workspace"
)

// DubRequest 按原始转写时间轴配音
type DubRequest struct {
	ID      string                     `json:"id,omitempty" yaml:"id"`
	Entries []timeline.TranscriptEntry `json:"entries" yaml:"entries"`
	// UseAI 为 nil 时使用 segment.use_ai
	UseAI *bool `json:"use_ai,omitempty" yaml:"use_ai"`
	// MergeSentences 分段前先把逐行条目合并成完整句子
	MergeSentences bool   `json:"merge_sentences,omitempty" yaml:"merge_sentences"`
	Voice          Voice  `json:"voice,omitempty" yaml:"voice"`
	Output         string `json:"output,omitempty" yaml:"output"`
}

// SkippedSegment 合成失败而被跳过的片段，其时间在成品中为静音
type SkippedSegment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// DubResult 配音结果
type DubResult struct {
	ID             string               `json:"id"`
	Path           string               `json:"path"`
	Duration       float64              `json:"duration"`
	Segments       []timeline.Segment   `json:"segments"`
	Clips          []timeline.TimedClip `json:"clips"`
	Skipped        []SkippedSegment     `json:"skipped,omitempty"`
	UsedAI         bool                 `json:"used_ai"`
	Adjusted       int                  `json:"adjusted"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
}

// Segment 按配置选择语义分段或规则分段
func (p *Processor) Segment(ctx context.Context, entries []timeline.TranscriptEntry, useAI bool, tr *progress.Tracker) timeline.AISegmentResult {
	if useAI && p.text != nil {
		return p.aiSegmenter.Segment(ctx, entries, tr)
	}
	return timeline.AISegmentResult{Segments: p.segmenter.Segment(entries)}
}

// DubTranscript 转写条目 ⇒ 分段 ⇒ 逐段合成 ⇒ 时长对齐 ⇒ 按原时间轴补静音拼接
func (p *Processor) DubTranscript(ctx context.Context, req DubRequest) (*DubResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, finish := p.beginItem(ctx, "dub", req.ID)
	res, err := p.dubTranscript(ctx, req)
	output := ""
	if res != nil {
		output = res.Path
	}
	finish(output, err)
	return res, err
}

func (p *Processor) dubTranscript(ctx context.Context, req DubRequest) (*DubResult, error) {
	tr := p.tracker(req.ID, "dub")
	tr.Start("开始配音")

	useAI := p.cfg.Segment.UseAI
	if req.UseAI != nil {
		useAI = *req.UseAI
	}

	entries := req.Entries
	if req.MergeSentences {
		entries = timeline.MergeIntoSentences(entries)
	}

	var seg timeline.AISegmentResult
	_ = p.step(ctx, "segment", func() (string, error) {
		seg = p.Segment(ctx, entries, useAI, nil)
		return fmt.Sprintf("%d segments, ai=%t", len(seg.Segments), seg.UsedAI), nil
	})
	if len(seg.Segments) == 0 {
		tr.Fail("没有可用的片段")
		return nil, fmt.Errorf("%w: %v", ErrNothingToCompose, timeline.ErrNoSegments)
	}
	tr.Step(10, fmt.Sprintf("分段完成，共 %d 段", len(seg.Segments)))

	ws, err := p.workspaces.Create("dub")
	if err != nil {
		tr.Fail(err.Error())
		return nil, err
	}
	defer ws.Cleanup()

	result := &DubResult{ID: req.ID, Segments: seg.Segments, UsedAI: seg.UsedAI, FallbackReason: seg.FallbackReason}
	for i, s := range seg.Segments {
		clip, err := p.dubSegment(ctx, ws, i, s, req.Voice)
		if err != nil {
			p.logger.Warn("片段合成失败，跳过", zap.Int("index", i), zap.Error(err))
			result.Skipped = append(result.Skipped, SkippedSegment{Index: i, Text: s.Text, Error: err.Error()})
			continue
		}
		if clip.Adjusted {
			result.Adjusted++
		}
		result.Clips = append(result.Clips, timeline.TimedClip{Segment: s, Clip: clip})
		tr.Step(progress.Scale(10, 80, progress.Percent(i+1, len(seg.Segments))), fmt.Sprintf("片段 %d/%d 合成完成", i+1, len(seg.Segments)))
	}
	if len(result.Clips) == 0 {
		tr.Fail("所有片段合成失败")
		return result, fmt.Errorf("%w: all %d segments failed", ErrNothingToCompose, len(seg.Segments))
	}

	var assembly timeline.Assembly
	_ = p.step(ctx, "concat_segments", func() (string, error) {
		assembly = p.assembler.ConcatWithSilence(ctx, result.Clips, ws.AudioDir, ws.Audio("dubbed.mp3"))
		if assembly.Placeholder {
			return "placeholder", fmt.Errorf("%s", assembly.Error)
		}
		return fmt.Sprintf("%d clips, %.3fs", len(assembly.Clips), assembly.Duration), nil
	})
	if assembly.Placeholder {
		tr.Fail("音频拼接失败")
		return result, fmt.Errorf("%w: %s", ErrNoArtifact, assembly.Error)
	}
	result.Duration = assembly.Duration
	tr.Step(95, "拼接完成")

	output := req.Output
	if output == "" {
		output = p.outputPath("dub", req.ID+".mp3")
	}
	if err := workspace.Publish(assembly.Path, output); err != nil {
		tr.Fail(err.Error())
		return result, fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	result.Path = output

	tr.Done("配音完成")
	p.logger.Info("配音完成",
		zap.String("id", req.ID),
		zap.Int("segments", len(seg.Segments)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("adjusted", result.Adjusted),
		zap.Float64("duration", result.Duration))
	return result, nil
}

// dubSegment 合成单个片段并对齐到片段时长
func (p *Processor) dubSegment(ctx context.Context, ws *workspace.Workspace, index int, s timeline.Segment, voice Voice) (timeline.AudioClip, error) {
	raw := ws.Audio(fmt.Sprintf("seg_%04d.mp3", index))
	err := p.step(ctx, "speech", func() (string, error) {
		return fmt.Sprintf("segment %d", index), p.speech.Synthesize(ctx, p.speechRequest(s.Text, index, voice), raw)
	})
	if err != nil {
		return timeline.AudioClip{}, err
	}
	actual, err := p.runner.Probe(ctx, raw)
	if err != nil {
		return timeline.AudioClip{}, err
	}

	clip := timeline.AudioClip{Path: raw, TargetDuration: s.Duration, ActualDuration: actual, SpeedRatio: 1}
	_ = p.step(ctx, "reconcile", func() (string, error) {
		clip = p.reconciler.Reconcile(ctx, clip, ws.Audio(fmt.Sprintf("seg_%04d_tempo.mp3", index)))
		return fmt.Sprintf("ratio %.3f adjusted=%t", clip.SpeedRatio, clip.Adjusted), nil
	})
	return clip, nil
}
