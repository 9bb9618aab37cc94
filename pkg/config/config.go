// Package config 加载 config.yaml、.env 与环境变量
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Segment   SegmentConfig   `mapstructure:"segment"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Timeline  TimelineConfig  `mapstructure:"timeline"`
	Video     VideoConfig     `mapstructure:"video"`
	Subtitle  SubtitleConfig  `mapstructure:"subtitle"`
	Music     MusicConfig     `mapstructure:"music"`
	AI        AIConfig        `mapstructure:"ai"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Image     ImageConfig     `mapstructure:"image"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// FFmpegConfig 转码器
type FFmpegConfig struct {
	Path         string        `mapstructure:"path"`
	ProbePath    string        `mapstructure:"probe_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// ClipTimeout 单个图片转视频片段的预算
	ClipTimeout time.Duration `mapstructure:"clip_timeout"`
}

// SegmentConfig 分段阈值
type SegmentConfig struct {
	GapThreshold     float64 `mapstructure:"gap_threshold"`
	MinWordsForBreak int     `mapstructure:"min_words_for_break"`
	MaxWords         int     `mapstructure:"max_words"`
	MaxDuration      float64 `mapstructure:"max_duration"`
	UseAI            bool    `mapstructure:"use_ai"`
}

// ReconcileConfig 时长对齐
type ReconcileConfig struct {
	Tolerance float64 `mapstructure:"tolerance"`
	MinTempo  float64 `mapstructure:"min_tempo"`
	MaxTempo  float64 `mapstructure:"max_tempo"`
}

// TimelineConfig 音轨拼接
type TimelineConfig struct {
	GapThreshold float64 `mapstructure:"gap_threshold"`
	ChunkPause   float64 `mapstructure:"chunk_pause"`
	SampleRate   int     `mapstructure:"sample_rate"`
	ChannelLayout string `mapstructure:"channel_layout"`
}

// VideoConfig 画面合成
type VideoConfig struct {
	Width              int     `mapstructure:"width"`
	Height             int     `mapstructure:"height"`
	FPS                int     `mapstructure:"fps"`
	Preset             string  `mapstructure:"preset"`
	CRF                int     `mapstructure:"crf"`
	AudioBitrate       string  `mapstructure:"audio_bitrate"`
	TransitionDuration float64 `mapstructure:"transition_duration"`
	MinSceneDuration   float64 `mapstructure:"min_scene_duration"`
	ChunkZoom          float64 `mapstructure:"chunk_zoom"`
	SceneZoom          float64 `mapstructure:"scene_zoom"`
	Transitions        []string `mapstructure:"transitions"`
}

// SubtitleConfig 字幕
type SubtitleConfig struct {
	MinDuration float64 `mapstructure:"min_duration"`
	ForceStyle  string  `mapstructure:"force_style"`
	Burn        bool    `mapstructure:"burn"`
}

// MusicConfig 片头片尾与背景音乐
type MusicConfig struct {
	IntroMaxDuration float64 `mapstructure:"intro_max_duration"`
	IntroFade        float64 `mapstructure:"intro_fade"`
	IntroOverlap     float64 `mapstructure:"intro_overlap"`
	OutroFade        float64 `mapstructure:"outro_fade"`
	OutroExtend      float64 `mapstructure:"outro_extend"`
	Volume           float64 `mapstructure:"volume"`
	BackgroundVolume float64 `mapstructure:"background_volume"`
	IntroPath        string  `mapstructure:"intro_path"`
	OutroPath        string  `mapstructure:"outro_path"`
	BackgroundPath   string  `mapstructure:"background_path"`
	OutroUseIntro    bool    `mapstructure:"outro_use_intro"`
}

// AIConfig 语义分段与分块所用的文本模型
type AIConfig struct {
	Provider     string        `mapstructure:"provider"`
	GeminiAPIKey string        `mapstructure:"gemini_api_key"`
	GeminiModel  string        `mapstructure:"gemini_model"`
	GeminiURL    string        `mapstructure:"gemini_url"`
	OllamaURL    string        `mapstructure:"ollama_url"`
	OllamaModel  string        `mapstructure:"ollama_model"`
	Temperature  float64       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SpeechConfig 语音合成
type SpeechConfig struct {
	Provider         string        `mapstructure:"provider"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	VoiceGender      string        `mapstructure:"voice_gender"`
	VoiceName        string        `mapstructure:"voice_name"`
	StyleInstruction string        `mapstructure:"style_instruction"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CharsPerSecond   float64       `mapstructure:"chars_per_second"`
}

// ImageConfig 图片生成
type ImageConfig struct {
	Provider      string        `mapstructure:"provider"`
	DrawThingsURL string        `mapstructure:"drawthings_url"`
	FontPath      string        `mapstructure:"font_path"`
	Steps         int           `mapstructure:"steps"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig 编排
type WorkflowConfig struct {
	WorkRoot    string        `mapstructure:"work_root"`
	OutputRoot  string        `mapstructure:"output_root"`
	MaxParallel int64         `mapstructure:"max_parallel"`
	ProgressTTL time.Duration `mapstructure:"progress_ttl"`
	KeepWorkDir bool          `mapstructure:"keep_work_dir"`
}

// DatabaseConfig 运行记录库
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig Web 服务
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig 日志
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SetDefaults 写入默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.probe_path", "ffprobe")
	v.SetDefault("ffmpeg.timeout", 10*time.Minute)
	v.SetDefault("ffmpeg.probe_timeout", 30*time.Second)
	v.SetDefault("ffmpeg.clip_timeout", 5*time.Minute)

	v.SetDefault("segment.gap_threshold", 0.5)
	v.SetDefault("segment.min_words_for_break", 20)
	v.SetDefault("segment.max_words", 80)
	v.SetDefault("segment.max_duration", 15.0)
	v.SetDefault("segment.use_ai", false)

	v.SetDefault("reconcile.tolerance", 0.1)
	v.SetDefault("reconcile.min_tempo", 0.5)
	v.SetDefault("reconcile.max_tempo", 2.0)

	v.SetDefault("timeline.gap_threshold", 0.1)
	v.SetDefault("timeline.chunk_pause", 1.0)
	v.SetDefault("timeline.sample_rate", 44100)
	v.SetDefault("timeline.channel_layout", "stereo")

	v.SetDefault("video.width", 1920)
	v.SetDefault("video.height", 1080)
	v.SetDefault("video.fps", 30)
	v.SetDefault("video.preset", "fast")
	v.SetDefault("video.crf", 23)
	v.SetDefault("video.audio_bitrate", "192k")
	v.SetDefault("video.transition_duration", 0.5)
	v.SetDefault("video.min_scene_duration", 3.0)
	v.SetDefault("video.chunk_zoom", 1.15)
	v.SetDefault("video.scene_zoom", 1.2)
	v.SetDefault("video.transitions", []string{"fade", "wipeleft", "wiperight", "wipeup", "wipedown", "slideleft", "slideright", "dissolve"})

	v.SetDefault("subtitle.min_duration", 0.5)
	v.SetDefault("subtitle.force_style", "FontSize=22,FontName=Arial,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=2,Shadow=1,MarginV=30")
	v.SetDefault("subtitle.burn", true)

	v.SetDefault("music.intro_max_duration", 5.0)
	v.SetDefault("music.intro_fade", 3.0)
	v.SetDefault("music.intro_overlap", 0.5)
	v.SetDefault("music.outro_fade", 3.0)
	v.SetDefault("music.outro_extend", 5.0)
	v.SetDefault("music.volume", 0.3)
	v.SetDefault("music.background_volume", 0.15)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini_model", "gemini-1.5-flash")
	v.SetDefault("ai.gemini_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("ai.ollama_url", "http://localhost:11434")
	v.SetDefault("ai.ollama_model", "qwen3:4b")
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.timeout", 60*time.Second)

	v.SetDefault("speech.provider", "mock")
	v.SetDefault("speech.voice_gender", "female")
	v.SetDefault("speech.timeout", 300*time.Second)
	v.SetDefault("speech.chars_per_second", 15.0)

	v.SetDefault("image.provider", "card")
	v.SetDefault("image.drawthings_url", "http://localhost:7860")
	v.SetDefault("image.steps", 20)
	v.SetDefault("image.timeout", 300*time.Second)

	v.SetDefault("workflow.work_root", filepath.Join(os.TempDir(), "timeline-synth"))
	v.SetDefault("workflow.output_root", "output")
	v.SetDefault("workflow.max_parallel", 1)
	v.SetDefault("workflow.progress_ttl", time.Hour)

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "")

	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/timeline-synth.log")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)
}

// Load 加载配置。path 为空时依次尝试当前工作目录与可执行文件目录下的 config.yaml，
// 都不存在时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("TSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = locateConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if cfg.AI.GeminiAPIKey == "" {
		cfg.AI.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Speech.APIKey == "" {
		cfg.Speech.APIKey = os.Getenv("TTS_API_KEY")
	}
	return &cfg, nil
}

// Default 仅包含默认值的配置
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func locateConfigFile() string {
	if wd, err := os.Getwd(); err == nil {
		p := filepath.Join(wd, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
