package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// parseInvoiceJSON recovers the invoice object from a model response.
// It tolerates markdown fences and reasoning text around the JSON.
func parseInvoiceJSON(text string) (*InvoiceData, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	var data InvoiceData
	if stripped := stripFences(raw); stripped != "" {
		if err := json.Unmarshal([]byte(stripped), &data); err == nil {
			return &data, nil
		}
	}

	// prose before or after the object, fenced or not
	match := jsonObject.FindString(raw)
	if match == "" {
		return nil, ErrNoJSON
	}
	data = InvoiceData{}
	if err := json.Unmarshal([]byte(match), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return &data, nil
}

func stripFences(text string) string {
	switch {
	case strings.HasPrefix(text, "```json"):
		text = text[len("```json"):]
	case strings.HasPrefix(text, "```"):
		text = text[len("```"):]
	}
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
