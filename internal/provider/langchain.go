package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"mentorbot/internal/config"
)

// embeddingClient is satisfied by both the openai and googleai langchaingo
// clients.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// LLM implements ContentClassifier, RoutingClassifier and Embedder on top of
// a langchaingo model. The backend (openai or googleai) is chosen at
// construction and only surfaces in verdict audit fields.
type LLM struct {
	model    llms.Model
	embedder embeddingClient
	name     string
	logger   *zap.Logger
}

// NewLLM builds the configured LLM provider.
func NewLLM(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LLM, error) {
	switch cfg.LLM.Provider {
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.LLM.APIKey)}
		if cfg.LLM.Model != "" {
			opts = append(opts, openai.WithModel(cfg.LLM.Model))
		}
		if cfg.LLM.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.LLM.EmbeddingModel))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai provider: %w", err)
		}
		return &LLM{model: llm, embedder: llm, name: "openai", logger: logger}, nil
	case "googleai":
		opts := []googleai.Option{googleai.WithAPIKey(cfg.LLM.APIKey)}
		if cfg.LLM.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(cfg.LLM.Model))
		}
		if cfg.LLM.EmbeddingModel != "" {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(cfg.LLM.EmbeddingModel))
		}
		llm, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize googleai provider: %w", err)
		}
		return &LLM{model: llm, embedder: llm, name: "googleai", logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.LLM.Provider)
	}
}

// Name returns the backend identifier recorded on audit records.
func (l *LLM) Name() string {
	return l.name
}

type moderationResponse struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (l *LLM) Classify(ctx context.Context, text string, history []string) (*Moderation, error) {
	raw, err := l.generate(ctx, moderationSystemPrompt, moderationUserPrompt(text, history), 0.3)
	if err != nil {
		return nil, err
	}

	var resp moderationResponse
	if err := json.Unmarshal(extractJSON(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed moderation response: %v", ErrUnavailable, err)
	}

	verdict := Verdict(resp.Verdict)
	switch verdict {
	case VerdictClean, VerdictSpam, VerdictViolation:
	default:
		// Unrecognized labels fail open to clean, the reason keeps the raw label.
		l.logger.Warn("Unrecognized moderation verdict", zap.String("verdict", resp.Verdict))
		verdict = VerdictClean
	}

	return &Moderation{
		Verdict:    verdict,
		Confidence: clamp01(resp.Confidence),
		Reason:     resp.Reason,
		Provider:   l.name,
	}, nil
}

type routingResponse struct {
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (l *LLM) Route(ctx context.Context, text string, domains []string) (*Routing, error) {
	raw, err := l.generate(ctx, formatRoutingSystemPrompt(domains), routingUserPrompt(text), 0.5)
	if err != nil {
		return nil, err
	}

	var resp routingResponse
	if err := json.Unmarshal(extractJSON(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed routing response: %v", ErrUnavailable, err)
	}

	return &Routing{
		Domain:     strings.TrimSpace(resp.Domain),
		Confidence: clamp01(resp.Confidence),
		Reason:     resp.Reason,
	}, nil
}

func (l *LLM) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := l.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding call failed: %v", ErrUnavailable, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: embedding call returned no vector", ErrUnavailable)
	}

	vec := make([]float64, len(vectors[0]))
	for i, v := range vectors[0] {
		vec[i] = float64(v)
	}
	return vec, nil
}

func (l *LLM) generate(ctx context.Context, system, user string, temperature float64) (string, error) {
	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, user),
		},
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(500),
	)
	if err != nil {
		return "", fmt.Errorf("%w: llm call failed: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: llm returned no choices", ErrUnavailable)
	}
	return resp.Choices[0].Content, nil
}

// extractJSON trims code fences and surrounding prose from a model response,
// leaving the outermost JSON object.
func extractJSON(raw string) []byte {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return []byte(raw)
	}
	return []byte(raw[start : end+1])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
