// Package sentiment scores post text with a pre-trained binary classifier
// blended with keyword and emoji heuristics.
package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"positivex.app/server/internal/retry"
)

const (
	LabelPositive = "positive"
	LabelNegative = "negative"

	BackendHuggingFace = "huggingface"
	BackendGemini      = "gemini"
	BackendAnthropic   = "anthropic"
)

// Prediction is the raw verdict of a binary classifier. Score is the
// confidence in Label, in [0, 1].
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier is an owned model resource. Close releases it.
type Classifier interface {
	Classify(ctx context.Context, text string) (Prediction, error)
	Close() error
}

// Options selects and configures a classifier backend.
type Options struct {
	Backend          string
	HuggingFaceToken string
	HuggingFaceModel string
	GeminiAPIKey     string
	GeminiModel      string
	AnthropicAPIKey  string
	AnthropicModel   string
	HTTPClient       *http.Client
	Retry            *retry.Policy
}

// New constructs the classifier named by opts.Backend.
func New(ctx context.Context, opts Options) (Classifier, error) {
	switch opts.Backend {
	case BackendHuggingFace, "":
		return NewHuggingFaceClassifier(opts.HuggingFaceToken, opts.HuggingFaceModel, opts.HTTPClient, opts.Retry), nil
	case BackendGemini:
		return NewGeminiClassifier(ctx, opts.GeminiAPIKey, opts.GeminiModel)
	case BackendAnthropic:
		return NewAnthropicClassifier(opts.AnthropicAPIKey, opts.AnthropicModel), nil
	default:
		return nil, fmt.Errorf("unknown classifier backend: %s", opts.Backend)
	}
}

func normalizeLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive", "pos", "label_1":
		return LabelPositive
	case "negative", "neg", "label_0":
		return LabelNegative
	default:
		return strings.ToLower(strings.TrimSpace(label))
	}
}

const verdictInstruction = "You are a binary sentiment classifier for short social media posts. " +
	"Classify the post as positive or negative. " +
	`Respond with JSON only, exactly {"label": "positive"|"negative", "score": <confidence between 0 and 1>}.`

func verdictPrompt(text string) string {
	return fmt.Sprintf("Post:\n%s", text)
}

// parseVerdict decodes the JSON verdict produced by the LLM-backed classifiers.
func parseVerdict(raw string) (Prediction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var p Prediction
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Prediction{}, fmt.Errorf("parse verdict: %w (response: %.200s)", err, raw)
	}
	return validate(p)
}

func validate(p Prediction) (Prediction, error) {
	p.Label = normalizeLabel(p.Label)
	if p.Label != LabelPositive && p.Label != LabelNegative {
		return Prediction{}, fmt.Errorf("unexpected classifier label %q", p.Label)
	}
	if p.Score < 0 || p.Score > 1 {
		return Prediction{}, fmt.Errorf("classifier score %v out of range", p.Score)
	}
	return p, nil
}

var ErrEmptyText = errors.New("text is required")
