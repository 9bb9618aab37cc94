package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcp "github.com/mark3labs/mcp-go/mcp"
	mcp_server "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/compose"
	"github.com/beewebpro/new-sumotech-sub000/pkg/subtitle"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
)

// ToolInfo 工具名与说明，供 Web 端展示
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Handler processes MCP requests
type Handler struct {
	server    *mcp_server.MCPServer
	processor *workflow.Processor
	logger    *zap.Logger
	tools     []ToolInfo
}

// NewHandler creates a new handler
func NewHandler(server *mcp_server.MCPServer, processor *workflow.Processor, logger *zap.Logger) *Handler {
	return &Handler{
		server:    server,
		processor: processor,
		logger:    logger,
	}
}

func (h *Handler) add(tool mcp.Tool, fn mcp_server.ToolHandlerFunc) {
	h.server.AddTool(tool, fn)
	h.tools = append(h.tools, ToolInfo{Name: tool.Name, Description: tool.Description})
}

// RegisterTools registers all tools with the MCP server.
// List arguments travel as JSON strings.
func (h *Handler) RegisterTools() {
	h.add(mcp.NewTool("segment_transcript",
		mcp.WithDescription("Group timed transcript entries into segments"),
		mcp.WithString("entries", mcp.Required(), mcp.Description(`JSON array of {"text","start","duration"}`)),
		mcp.WithBoolean("use_ai", mcp.Description("Use the text model for semantic segmentation")),
	), h.handleSegmentTranscript)

	h.add(mcp.NewTool("allocate_scene_durations",
		mcp.WithDescription("Split a total duration across scenes in proportion to their text length"),
		mcp.WithString("texts", mcp.Required(), mcp.Description("JSON array of scene texts")),
		mcp.WithNumber("total", mcp.Required(), mcp.Description("Total seconds to allocate")),
		mcp.WithNumber("min_duration", mcp.Description("Per-scene floor in seconds")),
		mcp.WithNumber("transition", mcp.Description("Crossfade duration in seconds")),
	), h.handleAllocate)

	h.add(mcp.NewTool("transition_offsets",
		mcp.WithDescription("Compute xfade offsets for a sequence of clip durations"),
		mcp.WithString("durations", mcp.Required(), mcp.Description("JSON array of clip durations in seconds")),
		mcp.WithNumber("transition", mcp.Description("Crossfade duration in seconds")),
	), h.handleTransitionOffsets)

	h.add(mcp.NewTool("build_chunk_subtitles",
		mcp.WithDescription("Build sentence subtitles spanning an audio duration"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Narration text")),
		mcp.WithNumber("audio_duration", mcp.Required(), mcp.Description("Audio duration in seconds")),
		mcp.WithString("output_file", mcp.Description("Optional SRT output path")),
	), h.handleChunkSubtitles)

	h.add(mcp.NewTool("dub_transcript",
		mcp.WithDescription("Synthesize speech for a transcript and align it to the original timing"),
		mcp.WithString("entries", mcp.Required(), mcp.Description(`JSON array of {"text","start","duration"}`)),
		mcp.WithString("job_id", mcp.Description("Progress job id")),
		mcp.WithBoolean("use_ai", mcp.Description("Use the text model for semantic segmentation")),
		mcp.WithString("voice_gender", mcp.Description("male or female")),
		mcp.WithString("voice_name", mcp.Description("Provider voice name")),
		mcp.WithString("output_file", mcp.Description("Output audio path")),
	), h.handleDubTranscript)

	h.add(mcp.NewTool("generate_description_video",
		mcp.WithDescription("Render a narrated description video with transitions and subtitles"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Description text")),
		mcp.WithString("title", mcp.Description("Book title")),
		mcp.WithString("category", mcp.Description("Book category")),
		mcp.WithString("book_type", mcp.Description("Book type")),
		mcp.WithString("job_id", mcp.Description("Progress job id")),
		mcp.WithBoolean("burn_subtitles", mcp.Description("Burn subtitles into the picture")),
		mcp.WithString("output_file", mcp.Description("Output video path")),
	), h.handleDescriptionVideo)

	h.add(mcp.NewTool("batch_chapter_audio",
		mcp.WithDescription("Merge chunk audio into chapter tracks; one failing chapter does not stop the others"),
		mcp.WithString("chapters", mcp.Required(), mcp.Description(`JSON array of {"chapter_id","chunk_audio":[],"chunk_texts":[]}`)),
		mcp.WithString("job_id", mcp.Description("Progress job id")),
	), h.handleBatchChapterAudio)

	h.add(mcp.NewTool("compose_scene_video",
		mcp.WithDescription("Build a slideshow whose scene lengths follow the narration"),
		mcp.WithString("scenes", mcp.Required(), mcp.Description(`JSON array of {"image"|"video","text"}`)),
		mcp.WithString("narration", mcp.Required(), mcp.Description("Narration audio path")),
		mcp.WithString("background", mcp.Description("Background music path")),
		mcp.WithString("subtitles", mcp.Description("SRT file to burn")),
		mcp.WithString("job_id", mcp.Description("Progress job id")),
		mcp.WithString("output_file", mcp.Description("Output video path")),
	), h.handleSceneVideo)

	h.logger.Info("MCP tools registered", zap.Int("tool_count", len(h.tools)))
}

// GetToolNames gets all tool names
func (h *Handler) GetToolNames() []string {
	names := make([]string, len(h.tools))
	for i, t := range h.tools {
		names[i] = t.Name
	}
	return names
}

// Tools 已注册工具的说明
func (h *Handler) Tools() []ToolInfo {
	return h.tools
}

func (h *Handler) handleSegmentTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var entries []timeline.TranscriptEntry
	if res := decodeArg(request, "entries", &entries); res != nil {
		return res, nil
	}
	useAI := request.GetBool("use_ai", h.processor.Config().Segment.UseAI)
	result := h.processor.Segment(ctx, entries, useAI, nil)
	return h.jsonResult(result)
}

func (h *Handler) handleAllocate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var texts []string
	if res := decodeArg(request, "texts", &texts); res != nil {
		return res, nil
	}
	total, err := request.RequireFloat("total")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: total"), nil
	}
	opts := h.processor.AllocateOptions()
	opts.MinDuration = request.GetFloat("min_duration", opts.MinDuration)
	opts.TransitionDuration = request.GetFloat("transition", opts.TransitionDuration)

	durations, err := compose.AllocateDurations(compose.TextWeights(texts), total, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to allocate durations: %v", err)), nil
	}
	return h.jsonResult(map[string]any{
		"durations":          durations,
		"offsets":            compose.Offsets(durations, opts.TransitionDuration),
		"composite_duration": compose.CompositeDuration(durations, opts.TransitionDuration),
	})
}

func (h *Handler) handleTransitionOffsets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var durations []float64
	if res := decodeArg(request, "durations", &durations); res != nil {
		return res, nil
	}
	transition := request.GetFloat("transition", h.processor.AllocateOptions().TransitionDuration)
	return h.jsonResult(map[string]any{
		"offsets":            compose.Offsets(durations, transition),
		"composite_duration": compose.CompositeDuration(durations, transition),
	})
}

func (h *Handler) handleChunkSubtitles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: text"), nil
	}
	duration, err := request.RequireFloat("audio_duration")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: audio_duration"), nil
	}

	track := h.processor.SubtitleSynthesizer().Synthesize(text, duration)
	response := map[string]any{
		"entries": track.Entries,
		"srt":     subtitle.Encode(track),
	}
	if out := request.GetString("output_file", ""); out != "" {
		if err := subtitle.WriteFile(out, track); err != nil {
			h.logger.Error("Failed to write subtitles", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to write subtitles: %v", err)), nil
		}
		response["file"] = out
	}
	return h.jsonResult(response)
}

func (h *Handler) handleDubTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var entries []timeline.TranscriptEntry
	if res := decodeArg(request, "entries", &entries); res != nil {
		return res, nil
	}
	req := workflow.DubRequest{
		ID:      request.GetString("job_id", ""),
		Entries: entries,
		Voice: workflow.Voice{
			Gender: request.GetString("voice_gender", ""),
			Name:   request.GetString("voice_name", ""),
		},
		Output: request.GetString("output_file", ""),
	}
	if args := request.GetArguments(); args["use_ai"] != nil {
		useAI := request.GetBool("use_ai", false)
		req.UseAI = &useAI
	}

	result, err := h.processor.DubTranscript(ctx, req)
	if err != nil {
		h.logger.Error("Failed to dub transcript", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to dub transcript: %v", err)), nil
	}
	return h.jsonResult(result)
}

func (h *Handler) handleDescriptionVideo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: text"), nil
	}
	req := workflow.DescriptionRequest{
		ID:       request.GetString("job_id", ""),
		Title:    request.GetString("title", ""),
		Category: request.GetString("category", ""),
		BookType: request.GetString("book_type", ""),
		Text:     text,
		Output:   request.GetString("output_file", ""),
	}
	if args := request.GetArguments(); args["burn_subtitles"] != nil {
		burn := request.GetBool("burn_subtitles", true)
		req.BurnSubtitles = &burn
	}

	result, err := h.processor.GenerateDescriptionVideo(ctx, req)
	if err != nil {
		h.logger.Error("Failed to generate description video", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to generate description video: %v", err)), nil
	}
	return h.jsonResult(result)
}

func (h *Handler) handleBatchChapterAudio(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var chapters []workflow.ChapterAudioRequest
	if res := decodeArg(request, "chapters", &chapters); res != nil {
		return res, nil
	}
	result := h.processor.BatchChapterAudios(ctx, request.GetString("job_id", ""), chapters)
	return h.jsonResult(result)
}

func (h *Handler) handleSceneVideo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var scenes []workflow.SceneInput
	if res := decodeArg(request, "scenes", &scenes); res != nil {
		return res, nil
	}
	narration, err := request.RequireString("narration")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: narration"), nil
	}

	result, err := h.processor.ComposeSceneVideo(ctx, workflow.SceneVideoRequest{
		ID:         request.GetString("job_id", ""),
		Scenes:     scenes,
		Narration:  narration,
		Background: request.GetString("background", ""),
		Subtitles:  request.GetString("subtitles", ""),
		Output:     request.GetString("output_file", ""),
	})
	if err != nil {
		h.logger.Error("Failed to compose scene video", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compose scene video: %v", err)), nil
	}
	return h.jsonResult(result)
}

// decodeArg 解析以 JSON 字符串传入的列表参数，失败时返回错误结果
func decodeArg(request mcp.CallToolRequest, name string, v any) *mcp.CallToolResult {
	raw, err := request.RequireString(name)
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: " + name)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid JSON in parameter %s: %v", name, err))
	}
	return nil
}

func (h *Handler) jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		h.logger.Error("Failed to serialize result", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
