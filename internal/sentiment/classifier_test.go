package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"positivex.app/server/internal/retry"
)

func noSleepPolicy() *retry.Policy {
	p := retry.NewPolicy("test", 2, time.Millisecond, time.Second)
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestHuggingFaceClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sst2" {
			t.Errorf("path = %s, want /sst2", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hf-token" {
			t.Errorf("Authorization = %q", got)
		}
		var body inferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Inputs != "what a day" {
			t.Errorf("body = %+v, err = %v", body, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[{"label":"NEGATIVE","score":0.12},{"label":"POSITIVE","score":0.88}]]`))
	}))
	defer srv.Close()

	c := NewHuggingFaceClassifier("hf-token", "sst2", srv.Client(), noSleepPolicy()).WithBaseURL(srv.URL + "/")
	defer c.Close()

	p, err := c.Classify(context.Background(), "what a day")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if p.Label != LabelPositive || p.Score != 0.88 {
		t.Errorf("Classify() = %+v", p)
	}
}

func TestHuggingFaceRetriesModelLoading(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"error":"Model is currently loading"}`, http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"label":"LABEL_0","score":0.7},{"label":"LABEL_1","score":0.3}]`))
	}))
	defer srv.Close()

	c := NewHuggingFaceClassifier("", "m", srv.Client(), noSleepPolicy()).WithBaseURL(srv.URL + "/")
	p, err := c.Classify(context.Background(), "meh")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if p.Label != LabelNegative {
		t.Errorf("Label = %s, want negative", p.Label)
	}
}

func TestHuggingFaceExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHuggingFaceClassifier("", "m", srv.Client(), noSleepPolicy()).WithBaseURL(srv.URL + "/")
	_, err := c.Classify(context.Background(), "meh")

	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Classify() error = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 2 || exhausted.StatusCode != http.StatusBadGateway {
		t.Errorf("exhausted = %+v", exhausted)
	}
}

func TestParseInferenceRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`{"error":"bad"}`, `[]`, `[[{"label":"joy","score":0.9}]]`} {
		if _, err := parseInference(json.RawMessage(raw)); err == nil {
			t.Errorf("parseInference(%s) succeeded, want error", raw)
		}
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), Options{Backend: "bert-local"}); err == nil {
		t.Fatal("New() accepted unknown backend")
	}
}
