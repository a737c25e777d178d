package scanning

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model name is configured
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	prompt string
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(ctx context.Context, apiKey string, modelName string, targetLanguage string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, &ExtractionError{Provider: "gemini", Err: fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)}
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(2048)

	return &Gemini{
		client: client,
		model:  model,
		prompt: buildPrompt(targetLanguage),
	}, nil
}

// ExtractInvoiceData sends the image and the extraction prompt to Gemini
func (g *Gemini) ExtractInvoiceData(ctx context.Context, imagePath string) (*InvoiceData, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType(imagePath), Data: imageData},
		genai.Text(g.prompt),
	)
	if err != nil {
		return nil, &ExtractionError{Provider: "gemini", Err: fmt.Errorf("generating content: %w", err)}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ExtractionError{Provider: "gemini", Err: ErrEmptyResponse}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := parseInvoiceJSON(responseText.String())
	if err != nil {
		return nil, &ExtractionError{Provider: "gemini", Err: err}
	}
	return data, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
