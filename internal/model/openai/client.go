// Package openai implements the tier-1 extraction adapter against any
// OpenAI-compatible chat/completions endpoint (llama.cpp, Ollama, vLLM or
// the hosted API).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"docextract/internal/common"
	"docextract/internal/fieldschema"
	"docextract/internal/model"
)

// Config for the OpenAI-compatible client.
type Config struct {
	BaseURL     string // default http://localhost:11434/v1
	Model       string
	APIKey      string // optional for local endpoints
	Temperature float32
	Timeout     time.Duration // http client timeout
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1:8b"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *Client) Model() string { return c.cfg.Model }

// Extract implements model.Extractor with a single chat/completions call.
func (c *Client) Extract(ctx context.Context, req model.Request) (map[string]model.FieldResult, model.Usage, error) {
	rid := uuid.New().String()
	start := time.Now()

	schema := fieldschema.BuildJSONSchema(req.Fields)
	sys := model.BuildSystemPrompt(req)
	user := model.BuildUserPrompt(req)

	c.logger.Info("model.openai.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"doc_id", req.DocumentID,
		"section", req.SectionRef,
		"fields", len(req.Fields),
		"text_len", len(req.Text),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": sys},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
			{"role": "user", "content": user},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.logger.Error("model.openai.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, model.Usage{Calls: 1}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, model.Usage{Calls: 1}, fmt.Errorf("decode completion response: %w", err)
	}
	usage := model.Usage{
		Calls:        1,
		InputTokens:  cc.Usage.PromptTokens,
		OutputTokens: cc.Usage.CompletionTokens,
	}
	if len(cc.Choices) == 0 {
		return nil, usage, fmt.Errorf("%w: no choices in response", common.ErrModelUnavailable)
	}

	content := model.ExtractJSONBlock(cc.Choices[0].Message.Content)
	if err := fieldschema.ValidateJSON(schema, []byte(content)); err != nil {
		c.logger.Warn("model.openai.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, usage, fmt.Errorf("schema validation failed: %w", err)
	}

	results, err := model.DecodeResults([]byte(content), req.Fields, req.PriorValues)
	if err != nil {
		return nil, usage, err
	}

	c.logger.Info("model.openai.ok",
		"req_id", rid,
		"fields", len(results),
		"tokens_in", usage.InputTokens,
		"tokens_out", usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return results, usage, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrModelUnavailable, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warn("model.openai.body_close_error", "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status 429: %s", common.ErrModelQuotaExceeded, raw)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", common.ErrModelUnavailable, resp.StatusCode, raw)
	}
	return raw, nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
