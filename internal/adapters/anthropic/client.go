package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/port"
)

// Config параметры клиента сервиса обогащения
type Config struct {
	APIKey            string
	BaseURL           string // пусто - публичный адрес API
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 - без ограничения
}

// EnrichmentClient реализует port.EnrichmentClientPort через Messages API.
// Повторы SDK отключены: попытками и откатом на резервную модель управляет ядро.
type EnrichmentClient struct {
	client  sdk.Client
	limiter *rate.Limiter
	hasKey  bool
}

func NewEnrichmentClient(cfg Config) *EnrichmentClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &EnrichmentClient{
		client:  sdk.NewClient(opts...),
		limiter: limiter,
		hasKey:  strings.TrimSpace(cfg.APIKey) != "",
	}
}

// Complete один вызов модели без повторов
func (c *EnrichmentClient) Complete(ctx context.Context, req domain.EnrichmentRequest) (*domain.EnrichmentResponse, error) {
	if !c.hasKey {
		return nil, domain.ErrMissingCredentials
	}
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "EnrichmentClient",
		"model":     req.Model,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.EnrichmentCallError{Transport: true, Err: err}
	}

	started := time.Now()
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		System:    []sdk.TextBlockParam{{Text: req.SystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.UserMessage)),
		},
	})
	if err != nil {
		callErr := toCallError(err)
		logger.Warn("Enrichment call failed", port.Fields{
			"status_code": callErr.StatusCode,
			"transport":   callErr.Transport,
			"elapsed_ms":  time.Since(started).Milliseconds(),
		})
		return nil, callErr
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	resp := &domain.EnrichmentResponse{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		Truncated:    msg.StopReason == sdk.StopReasonMaxTokens,
	}
	logger.Debug("Enrichment call finished", port.Fields{
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"truncated":     resp.Truncated,
		"elapsed_ms":    time.Since(started).Milliseconds(),
	})
	return resp, nil
}

// toCallError ответ с HTTP-статусом или ошибка транспорта
func toCallError(err error) *domain.EnrichmentCallError {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &domain.EnrichmentCallError{
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.RawJSON(),
			Err:        err,
		}
	}
	return &domain.EnrichmentCallError{Transport: true, Err: fmt.Errorf("enrichment request: %w", err)}
}
