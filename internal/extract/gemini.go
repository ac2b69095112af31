package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"schedcal/internal/httputil"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// GeminiBaseURL is the Generative Language API root.
var GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const defaultGeminiModel = "gemini-3-flash-preview"

// GeminiBackend calls generateContent with the document attached inline and
// a JSON response schema.
type GeminiBackend struct {
	APIKey     string
	Model      string
	Client     *http.Client
	MaxRetries int

	// BaseURL overrides GeminiBaseURL.
	BaseURL string
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Extract implements Extractor.
func (g *GeminiBackend) Extract(ctx context.Context, req Request) ([]model.Record, error) {
	doc := req.Document
	text := ""
	if !doc.IsBinary() {
		text = doc.Text
	}
	prompt, err := renderPrompt(req.Year, text)
	if err != nil {
		return nil, fmt.Errorf("gemini: render prompt: %w", err)
	}

	parts := make([]geminiPart, 0, 2)
	if doc.IsBinary() {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MIMEType: doc.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(doc.Body),
		}})
	}
	parts = append(parts, geminiPart{Text: prompt})

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   responseSchema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	modelName := g.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	base := g.BaseURL
	if base == "" {
		base = GeminiBaseURL
	}
	endpoint := strings.TrimRight(base, "/") + "/models/" + url.PathEscape(modelName) + ":generateContent"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.APIKey)

	appLog.Debug("gemini request", "model", modelName, "mime", doc.MIMEType, "bytes", len(doc.Body))

	resp, err := httputil.DoWithRetry(ctx, g.Client, httpReq, g.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("gemini: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("gemini: api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("gemini: unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("gemini: api error (status %d): %s", resp.StatusCode, apiResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini: api error (status %d)", resp.StatusCode)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, ErrNoContent
	}

	var sb strings.Builder
	for _, p := range apiResp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return decodeRecords(sb.String())
}
