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
	"strings"
	"time"
)

const (
	// DefaultHuggingFaceModel is used when no model name is configured
	DefaultHuggingFaceModel = "Qwen/Qwen2-VL-7B-Instruct"
	// DefaultHuggingFaceURL is the OpenAI-compatible inference router
	DefaultHuggingFaceURL = "https://router.huggingface.co/v1"
)

// HuggingFace implements the Extractor interface against the Hugging Face
// inference router's chat-completions endpoint
type HuggingFace struct {
	baseURL string
	token   string
	model   string
	prompt  string
	client  *http.Client
}

// NewHuggingFace creates a new HuggingFace Extractor instance
func NewHuggingFace(baseURL, token, modelName, targetLanguage string, timeout time.Duration) (*HuggingFace, error) {
	if token == "" {
		return nil, &ExtractionError{Provider: "huggingface", Err: fmt.Errorf("%w: HUGGINGFACE_TOKEN is not set", ErrNotConfigured)}
	}
	if baseURL == "" {
		baseURL = DefaultHuggingFaceURL
	}
	if modelName == "" {
		modelName = DefaultHuggingFaceModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HuggingFace{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		model:   modelName,
		prompt:  buildPrompt(targetLanguage),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// chatMessage content is either a string or a list of contentParts
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractInvoiceData sends the image as a data URL together with the prompt
func (h *HuggingFace) ExtractInvoiceData(ctx context.Context, imagePath string) (*InvoiceData, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType(imagePath), base64.StdEncoding.EncodeToString(imageData))

	reqBody := chatCompletionRequest{
		Model: h.model,
		Messages: []chatMessage{
			{Role: "system", Content: jsonOnlyInstruction},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: h.prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			}},
		},
		MaxTokens:   4096,
		Temperature: 0.1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &ExtractionError{Provider: "huggingface", Err: fmt.Errorf("calling inference API: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ExtractionError{Provider: "huggingface", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, &ExtractionError{Provider: "huggingface", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(completion.Choices) == 0 {
		return nil, &ExtractionError{Provider: "huggingface", Err: ErrEmptyResponse}
	}

	data, err := parseInvoiceJSON(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, &ExtractionError{Provider: "huggingface", Err: err}
	}
	return data, nil
}

// Close is a no-op for the HTTP client
func (h *HuggingFace) Close() error {
	return nil
}
