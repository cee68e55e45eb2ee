package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapdesk/internal/models"
)

// Intent names the LLM classifier is allowed to return.
const (
	IntentProductInquiry = "product_inquiry"
	IntentSupportRequest = "support_request"
	IntentComplaint      = "complaint"
	IntentGreeting       = "greeting"
	IntentAppointment    = "appointment"
	IntentPayment        = "payment"
	IntentOther          = "other"
)

// llmAcceptThreshold is the minimum confidence for an LLM classification to
// win over an absent or weaker configured-intent match.
const llmAcceptThreshold = 0.7

// Result is a best-effort classification of one inbound text. A zero Result
// (empty intent, confidence 0) means "no signal" and the conversation falls
// back to pure menu-driven flow.
type Result struct {
	Intent      string
	Confidence  float64
	TargetStage string
	Parameters  map[string]string
}

// Classifier is the optional second opinion behind the keyword matcher.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
}

// Matcher combines tenant-configured keyword intents with an optional LLM
// classifier. It never returns an error: any failure is logged and treated as
// no classification, so NLP can never block a conversation turn.
type Matcher struct {
	db  *gorm.DB
	llm Classifier
}

// NewMatcher creates a matcher. llm may be nil, in which case only configured
// intents are consulted.
func NewMatcher(db *gorm.DB, llm Classifier) (*Matcher, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	return &Matcher{db: db, llm: llm}, nil
}

// Classify runs both sources and applies the combination rule: the
// configured-intent match wins when its confidence is at least the LLM's,
// otherwise the LLM result is used if it clears llmAcceptThreshold.
func (m *Matcher) Classify(ctx context.Context, text string) Result {
	configured := m.matchConfigured(ctx, text)

	var llmResult *Result
	if m.llm != nil {
		res, err := m.llm.Classify(ctx, text)
		if err != nil {
			log.Warn().Err(err).Msg("LLM classification failed, continuing without it")
		} else {
			llmResult = res
		}
	}

	if configured != nil && (llmResult == nil || configured.Confidence >= llmResult.Confidence) {
		return *configured
	}
	if llmResult != nil && llmResult.Confidence > llmAcceptThreshold {
		return *llmResult
	}
	return Result{}
}

// matchConfigured scores the input against every enabled configured intent.
// An intent matches when the best of its phrase scores clears its own
// threshold; the highest-scoring matching intent wins.
func (m *Matcher) matchConfigured(ctx context.Context, text string) *Result {
	var configs []models.NlpIntentConfig
	if err := m.db.WithContext(ctx).Where("enabled = ?", true).Find(&configs).Error; err != nil {
		log.Warn().Err(err).Msg("Failed to load configured intents, skipping keyword matching")
		return nil
	}

	words := significantWords(text)
	if len(words) == 0 {
		return nil
	}

	var best *Result
	for _, cfg := range configs {
		var phrases []string
		if err := json.Unmarshal([]byte(cfg.TrainingPhrases), &phrases); err != nil {
			log.Warn().Err(err).Str("intent", cfg.Name).Msg("Invalid training phrases, skipping intent")
			continue
		}

		score := 0.0
		for _, phrase := range phrases {
			if s := phraseScore(words, phrase); s > score {
				score = s
			}
		}
		if score < cfg.ConfidenceThreshold {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &Result{
				Intent:      cfg.Name,
				Confidence:  score,
				TargetStage: cfg.TargetStage,
			}
		}
	}
	return best
}

// phraseScore is the fraction of the input's significant words that also
// appear in the training phrase.
func phraseScore(inputWords []string, phrase string) float64 {
	phraseSet := make(map[string]bool)
	for _, w := range significantWords(phrase) {
		phraseSet[w] = true
	}
	if len(phraseSet) == 0 {
		return 0
	}

	hits := 0
	for _, w := range inputWords {
		if phraseSet[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(inputWords))
}

// significantWords lowercases, splits on punctuation and drops words of three
// characters or fewer. Non-ASCII runes are kept so accented words survive.
func significantWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
