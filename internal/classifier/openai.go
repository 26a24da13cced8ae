package classifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/observability"
)

const grassPrompt = `Analyze this image and determine if it contains grass suitable for exercising outdoors.
Consider lawn grass, park grass, fields, etc. Ignore small patches or indoor artificial grass.
Respond only with 'Yes' if significant outdoor grass is clearly present,
'No' if no such grass is present, or
'Uncertain' if you can't determine or the image is unclear.`

// OpenAI classifies images with a vision-capable chat completion model
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewOpenAI builds a classifier from the configured API key, model and optional base URL
func NewOpenAI(cfg *config.ClassifierConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		tracer:    otel.Tracer("github.com/grass-leaderboard/internal/classifier"),
		logger:    logger.With("component", "classifier", "provider", "openai"),
	}, nil
}

// Classify sends the image inline as a data URL and normalizes the reply
func (c *OpenAI) Classify(parent context.Context, image []byte) (string, error) {
	ctx, span := c.tracer.Start(parent, "classifier.openai", trace.WithAttributes(
		attribute.String("model", c.model),
		attribute.Int("image.bytes", len(image)),
	))
	defer span.End()

	mime := mimetype.Detect(image)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime.String(), base64.StdEncoding.EncodeToString(image))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: grassPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
	})
	observability.ClassifyDuration().WithLabelValues("openai").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("openai classify: %w", err)
	}

	if len(resp.Choices) == 0 {
		c.logger.Warn("empty response from classifier")
		span.SetStatus(codes.Error, "no choices")
		return Normalize(""), nil
	}

	reply := resp.Choices[0].Message.Content
	label := Normalize(reply)
	if label != reply {
		c.logger.Warn("unexpected classifier reply", "reply", reply, "label", label)
	}
	span.SetAttributes(attribute.String("label", label))
	c.logger.Debug("image classified", "label", label, "mime", mime.String())

	return label, nil
}
