// Package anthropic implements the tier-2/3 escalation adapters on the
// Anthropic Messages API. Escalation calls operate on the unchunked section
// text and carry the prior tier's answers as context.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"docextract/internal/common"
	"docextract/internal/fieldschema"
	"docextract/internal/model"
)

const maxOutputTokens = 4096

// Config for one escalation tier.
type Config struct {
	APIKey string
	Model  string
}

type Client struct {
	cfg    Config
	client anthropic.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		logger: logger,
	}
}

func (c *Client) Model() string { return c.cfg.Model }

// Extract implements model.Extractor with a single Messages call.
func (c *Client) Extract(ctx context.Context, req model.Request) (map[string]model.FieldResult, model.Usage, error) {
	rid := uuid.New().String()
	start := time.Now()

	schema := fieldschema.BuildJSONSchema(req.Fields)
	sys := model.BuildSystemPrompt(req)
	user := model.BuildUserPrompt(req)

	c.logger.Info("model.anthropic.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"doc_id", req.DocumentID,
		"section", req.SectionRef,
		"fields", len(req.Fields),
		"prior_values", len(req.PriorValues),
		"text_len", len(req.Text),
	)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: maxOutputTokens,
		System: []anthropic.TextBlockParam{
			{Text: sys, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		c.logger.Error("model.anthropic.error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, model.Usage{Calls: 1}, classifyError(err)
	}

	usage := model.Usage{
		Calls:        1,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, usage, fmt.Errorf("%w: no text content in response", common.ErrModelUnavailable)
	}

	content := model.ExtractJSONBlock(text)
	if err := fieldschema.ValidateJSON(schema, []byte(content)); err != nil {
		c.logger.Warn("model.anthropic.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, usage, fmt.Errorf("schema validation failed: %w", err)
	}

	results, err := model.DecodeResults([]byte(content), req.Fields, req.PriorValues)
	if err != nil {
		return nil, usage, err
	}

	c.logger.Info("model.anthropic.ok",
		"req_id", rid,
		"fields", len(results),
		"tokens_in", usage.InputTokens,
		"tokens_out", usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return results, usage, nil
}

// classifyError maps API failures onto the pipeline taxonomy so the
// orchestrator can pause a rate-limited tier instead of hammering it.
func classifyError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", common.ErrModelQuotaExceeded, err)
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", common.ErrModelUnavailable, err)
		}
	}
	return fmt.Errorf("anthropic api error: %w", err)
}
