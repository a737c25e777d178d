package scanning

import (
	"context"
	"fmt"
	"time"
)

// Provider names an extraction backend
type Provider string

const (
	ProviderGemini      Provider = "gemini"
	ProviderHuggingFace Provider = "huggingface"
	ProviderOllama      Provider = "ollama"
)

// Options selects and configures an extraction backend
type Options struct {
	Provider       Provider
	TargetLanguage string
	Timeout        time.Duration

	GeminiAPIKey string
	GeminiModel  string

	HuggingFaceToken string
	HuggingFaceModel string
	HuggingFaceURL   string

	OllamaURL   string
	OllamaModel string
}

// New builds the Extractor named by opts.Provider
func New(ctx context.Context, opts Options) (Extractor, error) {
	switch opts.Provider {
	case ProviderGemini, "":
		g, err := NewGemini(ctx, opts.GeminiAPIKey, opts.GeminiModel, opts.TargetLanguage)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderHuggingFace:
		hf, err := NewHuggingFace(opts.HuggingFaceURL, opts.HuggingFaceToken, opts.HuggingFaceModel, opts.TargetLanguage, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return hf, nil
	case ProviderOllama:
		return NewOllama(opts.OllamaURL, opts.OllamaModel, opts.TargetLanguage, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", opts.Provider)
	}
}
