package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"schedcal/internal/httputil"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// AnthropicAPI is the Messages endpoint.
var AnthropicAPI = "https://api.anthropic.com/v1/messages"

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	anthropicVersion      = "2023-06-01"
	anthropicMaxTokens    = 8192
)

// AnthropicBackend calls the Messages API. PDFs go in a base64 document
// block; text documents are inlined in the prompt.
type AnthropicBackend struct {
	APIKey     string
	Model      string
	Client     *http.Client
	MaxRetries int

	// Endpoint overrides AnthropicAPI.
	Endpoint string
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Extract implements Extractor.
func (a *AnthropicBackend) Extract(ctx context.Context, req Request) ([]model.Record, error) {
	doc := req.Document
	text := ""
	if !doc.IsBinary() {
		text = doc.Text
	}
	prompt, err := renderPrompt(req.Year, text)
	if err != nil {
		return nil, fmt.Errorf("anthropic: render prompt: %w", err)
	}

	blocks := make([]anthropicBlock, 0, 2)
	if doc.IsBinary() {
		blocks = append(blocks, anthropicBlock{
			Type: "document",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: doc.MIMEType,
				Data:      base64.StdEncoding.EncodeToString(doc.Body),
			},
		})
	}
	blocks = append(blocks, anthropicBlock{Type: "text", Text: prompt})

	modelName := a.Model
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     modelName,
		MaxTokens: anthropicMaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = AnthropicAPI
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	appLog.Debug("anthropic request", "model", modelName, "mime", doc.MIMEType, "bytes", len(doc.Body))

	resp, err := httputil.DoWithRetry(ctx, a.Client, httpReq, a.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("anthropic: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: api error: %s", apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, c := range apiResp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return decodeRecords(sb.String())
}
