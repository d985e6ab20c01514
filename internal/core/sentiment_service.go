package core

import (
	"context"
	"errors"
	"strings"

	"positivex.app/server/internal/domain"
	"positivex.app/server/internal/sentiment"
)

const maxSentimentTextRunes = 4000

// SentimentService scores free text for POST /api/sentiment.
type SentimentService struct {
	annotator Annotator
}

func NewSentimentService(an Annotator) *SentimentService {
	return &SentimentService{annotator: an}
}

func (s *SentimentService) Analyze(ctx context.Context, text string) (*domain.Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewError(KindInvalidRequest, "text is required", nil)
	}
	if len([]rune(text)) > maxSentimentTextRunes {
		return nil, NewError(KindInvalidRequest, "text is too long", nil)
	}

	result, err := s.annotator.Analyze(ctx, text)
	if err != nil {
		if errors.Is(err, sentiment.ErrEmptyText) {
			return nil, NewError(KindInvalidRequest, "text is required", err)
		}
		return nil, NewError(KindUpstream, "Sentiment analysis is unavailable right now.", err)
	}
	return result, nil
}
