package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"positivex.app/server/internal/retry"
)

const (
	huggingFaceAPI          = "https://api-inference.huggingface.co/models/"
	defaultHuggingFaceModel = "distilbert-base-uncased-finetuned-sst-2-english"
)

// HuggingFaceClassifier runs a hosted text-classification pipeline through the
// Hugging Face Inference API.
type HuggingFaceClassifier struct {
	baseURL    string
	model      string
	token      string
	httpClient *http.Client
	retry      *retry.Policy
}

func NewHuggingFaceClassifier(token, model string, httpClient *http.Client, policy *retry.Policy) *HuggingFaceClassifier {
	if model == "" {
		model = defaultHuggingFaceModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if policy == nil {
		policy = retry.NewPolicy("huggingface", retry.DefaultMaxAttempts, retry.DefaultBaseDelay, retry.DefaultMaxWait)
	}
	return &HuggingFaceClassifier{
		baseURL:    huggingFaceAPI,
		model:      model,
		token:      token,
		httpClient: httpClient,
		retry:      policy,
	}
}

// WithBaseURL points the classifier at another inference endpoint.
func (c *HuggingFaceClassifier) WithBaseURL(baseURL string) *HuggingFaceClassifier {
	c.baseURL = baseURL
	return c
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

func (c *HuggingFaceClassifier) Classify(ctx context.Context, text string) (Prediction, error) {
	body, err := json.Marshal(inferenceRequest{Inputs: text})
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.retry.Do(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.model, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	})
	if err != nil {
		return Prediction{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Prediction{}, fmt.Errorf("decode response: %w", err)
	}
	return parseInference(raw)
}

// parseInference accepts both [[{label,score},...]] and [{label,score},...]
// and returns the highest scoring label.
func parseInference(raw json.RawMessage) (Prediction, error) {
	var candidates []Prediction
	var nested [][]Prediction
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		candidates = nested[0]
	} else if err := json.Unmarshal(raw, &candidates); err != nil {
		return Prediction{}, fmt.Errorf("unexpected inference response: %.200s", string(raw))
	}
	if len(candidates) == 0 {
		return Prediction{}, fmt.Errorf("empty inference response")
	}

	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.Score > best.Score {
			best = p
		}
	}
	return validate(best)
}

func (c *HuggingFaceClassifier) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
