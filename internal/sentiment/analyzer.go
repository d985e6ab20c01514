package sentiment

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"positivex.app/server/internal/domain"
	"positivex.app/server/internal/textutil"
)

const (
	categoryThreshold = 0.3
	// Positive posts at least this long default to informative.
	longPostRunes = 140

	keywordWeight = 0.5
	emojiWeight   = 0.3
)

// Analyzer produces the composite annotation for a piece of text.
type Analyzer struct {
	classifier Classifier
}

func NewAnalyzer(c Classifier) *Analyzer {
	return &Analyzer{classifier: c}
}

// Analyze classifies text and blends the result with the emoji heuristic.
// A classifier failure fails the whole annotation.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*domain.Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	pred, err := a.classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return Compose(text, pred), nil
}

// Compose combines a classifier prediction with the emoji heuristic. Keyword
// matches are reported in Stats only.
func Compose(text string, pred Prediction) *domain.Sentiment {
	signed := -pred.Score
	if normalizeLabel(pred.Label) == LabelPositive {
		signed = pred.Score
	}

	emojis := textutil.Emojis(text)
	emojiScore := emojiScore(emojis)

	score := signed
	if len(emojis) > 0 {
		score = (signed + emojiScore) / 2
	}
	score = clamp(score, -1, 1)

	category := categorize(score)

	return &domain.Sentiment{
		Score:    score,
		Category: category,
		Type:     contentType(text, category, emojis),
		Stats: domain.SentimentStats{
			ClassifierLabel: normalizeLabel(pred.Label),
			ClassifierScore: pred.Score,
			SignedScore:     signed,
			EmojiScore:      emojiScore,
			EmojiCount:      len(emojis),
			KeywordScores:   keywordScores(textutil.Words(text), emojis),
		},
	}
}

// emojiScore is the mean polarity of the emoji found, 0 when there are none.
func emojiScore(emojis []string) float64 {
	if len(emojis) == 0 {
		return 0
	}
	var sum float64
	for _, e := range emojis {
		sum += emojiPolarity[e]
	}
	return sum / float64(len(emojis))
}

func categorize(score float64) domain.Category {
	switch {
	case score > categoryThreshold:
		return domain.CategoryPositive
	case score < -categoryThreshold:
		return domain.CategoryNegative
	default:
		return domain.CategoryNeutral
	}
}

func keywordScores(words, emojis []string) map[domain.ContentType]float64 {
	scores := make(map[domain.ContentType]float64)
	for ct, keywords := range keywordGroups {
		var score float64
		for _, w := range words {
			if slices.ContainsFunc(keywords, func(k string) bool { return strings.Contains(w, k) }) {
				score += keywordWeight
			}
		}
		for _, e := range emojis {
			if slices.Contains(emojiGroups[ct], e) {
				score += emojiWeight
			}
		}
		if score > 0 {
			scores[ct] = score
		}
	}
	return scores
}

// contentType picks the first emoji group matched in precedence order. Without
// one, long positive text is informative and everything else general.
func contentType(text string, category domain.Category, emojis []string) domain.ContentType {
	for _, ct := range emojiPrecedence {
		for _, e := range emojis {
			if slices.Contains(emojiGroups[ct], e) {
				return ct
			}
		}
	}

	if category != domain.CategoryPositive {
		return domain.ContentGeneral
	}

	if textutil.RuneLen(text) >= longPostRunes {
		return domain.ContentInformative
	}
	return domain.ContentGeneral
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
