package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/font"
)

// ImageGenerator 根据画面描述生成一张图片
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, output string) error
}

// Txt2ImgRequest 文生图请求参数
type Txt2ImgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	Seed           int     `json:"seed"`
	SamplerName    string  `json:"sampler"`
	GuidanceScale  float64 `json:"cfg_scale"`
	BatchSize      int     `json:"batch_size"`
	Model          string  `json:"model,omitempty"`
}

// Txt2ImgResponse 文生图响应，Images 为 base64 图片
type Txt2ImgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// DrawThingsClient Stable Diffusion WebUI 兼容的 txt2img 接口
type DrawThingsClient struct {
	BaseURL    string
	Width      int
	Height     int
	Steps      int
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// NewDrawThingsClient 创建客户端
func NewDrawThingsClient(logger *zap.Logger, baseURL string, width, height, steps int, timeout time.Duration) *DrawThingsClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = "http://localhost:7860"
	}
	if steps <= 0 {
		steps = 20
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &DrawThingsClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Width:      width,
		Height:     height,
		Steps:      steps,
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Txt2Img 生成图像
func (c *DrawThingsClient) Txt2Img(ctx context.Context, params Txt2ImgRequest) (*Txt2ImgResponse, error) {
	endpoint := c.BaseURL + "/sdapi/v1/txt2img"
	c.Logger.Info("发送文生图请求",
		zap.String("endpoint", endpoint),
		zap.Int("width", params.Width),
		zap.Int("height", params.Height))

	var result Txt2ImgResponse
	if err := postJSON(ctx, c.HTTPClient, endpoint, params, &result); err != nil {
		return nil, fmt.Errorf("drawthings: %w", err)
	}
	return &result, nil
}

// Generate 实现 ImageGenerator
func (c *DrawThingsClient) Generate(ctx context.Context, prompt, output string) error {
	resp, err := c.Txt2Img(ctx, Txt2ImgRequest{
		Prompt:         prompt,
		NegativePrompt: "blurry, distorted proportions, missing limbs, text, watermark",
		Width:          c.Width,
		Height:         c.Height,
		Steps:          c.Steps,
		Seed:           -1,
		SamplerName:    "DPM++ 2M Karras",
		GuidanceScale:  7,
		BatchSize:      1,
	})
	if err != nil {
		return err
	}
	if len(resp.Images) == 0 {
		return fmt.Errorf("drawthings: no image returned")
	}
	data, err := decodeBase64Media(resp.Images[0])
	if err != nil {
		return fmt.Errorf("drawthings: %w", err)
	}
	if err := writeFile(output, data); err != nil {
		return err
	}
	c.Logger.Info("图像保存成功", zap.String("file", output))
	return nil
}

// CardRenderer 没有图片模型时的替代：纯色渐变底图上居中绘制文字
type CardRenderer struct {
	logger   *zap.Logger
	width    int
	height   int
	fontPath string
	fontSize float64
}

// NewCardRenderer fontPath 为空或无法加载时使用 gg 内置字体
func NewCardRenderer(logger *zap.Logger, width, height int, fontPath string) *CardRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	return &CardRenderer{logger: logger, width: width, height: height, fontPath: fontPath, fontSize: float64(height) / 22}
}

// Generate 实现 ImageGenerator。同一提示词总是得到同样的配色。
func (r *CardRenderer) Generate(ctx context.Context, prompt, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dc := gg.NewContext(r.width, r.height)

	top, bottom := palette(prompt)
	grad := gg.NewLinearGradient(0, 0, 0, float64(r.height))
	grad.AddColorStop(0, top)
	grad.AddColorStop(1, bottom)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(r.width), float64(r.height))
	dc.Fill()

	if face := r.loadFace(); face != nil {
		dc.SetFontFace(face)
	}

	text := strings.TrimSpace(prompt)
	maxWidth := float64(r.width) * 0.8
	cx, cy := float64(r.width)/2, float64(r.height)/2

	dc.SetRGB(0, 0, 0)
	for _, off := range [][2]float64{{2, 2}, {-2, -2}, {2, -2}, {-2, 2}} {
		dc.DrawStringWrapped(text, cx+off[0], cy+off[1], 0.5, 0.5, maxWidth, 1.5, gg.AlignCenter)
	}
	dc.SetRGB(1, 1, 1)
	dc.DrawStringWrapped(text, cx, cy, 0.5, 0.5, maxWidth, 1.5, gg.AlignCenter)

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	return dc.SavePNG(output)
}

func (r *CardRenderer) loadFace() font.Face {
	if r.fontPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.fontPath)
	if err != nil {
		r.logger.Warn("无法读取字体文件", zap.String("font", r.fontPath), zap.Error(err))
		return nil
	}
	f, err := truetype.Parse(data)
	if err != nil {
		r.logger.Warn("无法解析字体文件", zap.String("font", r.fontPath), zap.Error(err))
		return nil
	}
	return truetype.NewFace(f, &truetype.Options{Size: r.fontSize})
}

// palette 从提示词哈希出一对深色
func palette(prompt string) (color.Color, color.Color) {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	v := h.Sum32()
	base := color.RGBA{R: uint8(v>>16)%128 + 20, G: uint8(v>>8)%128 + 20, B: uint8(v)%128 + 20, A: 255}
	dark := color.RGBA{R: base.R / 3, G: base.G / 3, B: base.B / 3, A: 255}
	return base, dark
}
