// Package provider 实现文本模型、语音合成与图片生成的具体服务，
// 上层流水线只通过 timeline.TextGenerator、SpeechSynthesizer 与 ImageGenerator 使用它们。
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported 服务类型不支持所请求的能力
var ErrUnsupported = errors.New("provider does not support this capability")

// Kind 服务类型
type Kind string

const (
	KindGemini     Kind = "gemini"
	KindOllama     Kind = "ollama"
	KindHTTP       Kind = "http"
	KindMock       Kind = "mock"
	KindDrawThings Kind = "drawthings"
	KindCard       Kind = "card"
	KindOpenAI     Kind = "openai"
	KindMicrosoft  Kind = "microsoft"
)

// Capabilities 服务能力
type Capabilities struct {
	Text   bool
	Speech bool
	Image  bool
	// StyleInstruction 语音服务是否理解放在正文前的朗读风格说明
	StyleInstruction bool
}

var capabilities = map[Kind]Capabilities{
	KindGemini:     {Text: true, Speech: true, StyleInstruction: true},
	KindOllama:     {Text: true},
	KindHTTP:       {Speech: true, StyleInstruction: true},
	KindMock:       {Speech: true, StyleInstruction: true},
	KindDrawThings: {Image: true},
	KindCard:       {Image: true},
	KindOpenAI:     {Speech: true},
	KindMicrosoft:  {Speech: true},
}

// ParseKind 解析配置中的服务名，大小写不敏感
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilities[k]; !ok {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return k, nil
}

// Capabilities 返回该服务类型的能力
func (k Kind) Capabilities() Capabilities {
	return capabilities[k]
}

// Kinds 所有已知服务类型
func Kinds() []Kind {
	return []Kind{KindGemini, KindOllama, KindHTTP, KindMock, KindDrawThings, KindCard, KindOpenAI, KindMicrosoft}
}
