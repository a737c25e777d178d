package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout bounds a single provider HTTP call
const DefaultTimeout = 120 * time.Second

// Ollama implements the Extractor interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	prompt  string
	client  *http.Client
}

// NewOllama creates a new Ollama Extractor instance.
// Vision models that read printed receipts well:
//   - qwen2.5vl (good OCR, handles Japanese)
//   - llava:1.6
//   - llama3.2-vision
func NewOllama(baseURL string, modelName string, targetLanguage string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		prompt:  buildPrompt(targetLanguage),
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ExtractInvoiceData sends the image to Ollama's chat API
func (o *Ollama) ExtractInvoiceData(ctx context.Context, imagePath string) (*InvoiceData, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: jsonOnlyInstruction},
			{
				Role:    "user",
				Content: o.prompt,
				Images:  []string{base64.StdEncoding.EncodeToString(imageData)},
			},
		},
		Options: ollamaOptions{Temperature: 0.1},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &ExtractionError{Provider: "ollama", Err: fmt.Errorf("calling ollama API: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ExtractionError{Provider: "ollama", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &ExtractionError{Provider: "ollama", Err: fmt.Errorf("decoding response: %w", err)}
	}

	data, err := parseInvoiceJSON(chatResp.Message.Content)
	if err != nil {
		return nil, &ExtractionError{Provider: "ollama", Err: err}
	}
	return data, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
