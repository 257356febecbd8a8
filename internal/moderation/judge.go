package moderation

import (
	"context"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/velzar/velzar/internal/adapters"
	"github.com/velzar/velzar/internal/adapters/llm"
	"github.com/velzar/velzar/internal/observability"
)

type Risk string

const (
	RiskLow  Risk = "LOW"
	RiskMed  Risk = "MED"
	RiskHigh Risk = "HIGH"
)

type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransport FailureKind = "transport"
	FailureEmpty     FailureKind = "empty"
	FailureMalformed FailureKind = "malformed"
)

const CategoryError = "ERROR"

// Classification is the oracle's verdict on one text. Failure is set when the verdict
// is the safe default rather than an oracle answer.
type Classification struct {
	Risk     Risk
	Category string
	Reason   string
	Failure  FailureKind
}

func safeDefault(failure FailureKind, reason string) Classification {
	return Classification{Risk: RiskLow, Category: CategoryError, Reason: reason, Failure: failure}
}

const (
	classifySystemPrompt = `You are a content moderation classifier for a public chat community.
Classify the user's message and reply with exactly one JSON object and nothing else:
{"risk": "HIGH" | "MED" | "LOW", "category": "SPAM" | "SCAM" | "ATTACK" | "ILLEGAL" | "SAFE", "reason": "<one short sentence>"}
HIGH: scams, fraud, illegal content, threats of violence, doxxing.
MED: harassment, slurs, aggressive spam.
LOW: everything else, including jokes and quotes.`

	converseSystemPrompt = `You are a helpful assistant in a chat community. Answer briefly and in the user's language.`

	classifyMaxTokens   = 150
	classifyTemperature = 0.1
	classifyTopP        = 0.9
	converseMaxTokens   = 1000
	converseTemperature = 0.7
	maxClassifiedRunes  = 4000
	rawExcerptRunes     = 50
)

// AIJudge wraps the external oracle. It never returns errors: failed classifications
// come back as a LOW safe default tagged with the failure kind.
type AIJudge struct {
	llm           adapters.LLM
	model         string
	fallbackModel string
	logger        *log.Entry
}

func NewAIJudge(client adapters.LLM, model, fallbackModel string) *AIJudge {
	return &AIJudge{
		llm:           client,
		model:         model,
		fallbackModel: fallbackModel,
		logger:        log.WithField("object", "AIJudge"),
	}
}

func (j *AIJudge) Classify(ctx context.Context, text string) Classification {
	ctx, span := observability.Tracer().Start(ctx, "Classify")
	defer span.End()

	result := j.classify(ctx, text)
	outcome := string(result.Failure)
	if outcome == "" {
		outcome = strings.ToLower(string(result.Risk))
	}
	observability.RecordJudgeOutcome(outcome)
	span.SetAttributes(
		attribute.String("risk", string(result.Risk)),
		attribute.String("outcome", outcome),
	)
	return result
}

func (j *AIJudge) classify(ctx context.Context, text string) Classification {
	resp, err := j.llm.ChatCompletion(ctx, llm.ChatCompletionRequest{
		Model: j.model,
		Messages: []llm.ChatCompletionMessage{
			{Role: llm.RoleSystem, Content: classifySystemPrompt},
			{Role: llm.RoleUser, Content: truncateRunes(text, maxClassifiedRunes)},
		},
		MaxTokens:   classifyMaxTokens,
		Temperature: classifyTemperature,
		TopP:        classifyTopP,
	})
	if err != nil {
		j.logger.WithField("error", err.Error()).Warn("oracle unavailable, allowing message")
		return safeDefault(FailureTransport, "API Failure")
	}

	content := strings.TrimSpace(resp.Content())
	if content == "" {
		j.logger.WithField("model", j.model).Warn("oracle returned empty output")
		return safeDefault(FailureEmpty, "Empty oracle output")
	}

	result, ok := parseClassification(content)
	if !ok {
		excerpt := truncateRunes(content, rawExcerptRunes)
		j.logger.WithFields(log.Fields{
			"model": j.model,
			"raw":   excerpt,
		}).Warn("oracle returned malformed output")
		return safeDefault(FailureMalformed, "JSON Parse Error. Raw: "+excerpt)
	}
	return result
}

// Converse produces a free-form reply to history. A failed or empty primary answer is
// retried once on the fallback model.
func (j *AIJudge) Converse(ctx context.Context, history []llm.ChatCompletionMessage) (string, bool) {
	if len(history) == 0 {
		return "", false
	}
	messages := history
	if history[0].Role != llm.RoleSystem {
		messages = append([]llm.ChatCompletionMessage{{Role: llm.RoleSystem, Content: converseSystemPrompt}}, history...)
	}

	models := []string{j.model}
	if j.fallbackModel != "" && j.fallbackModel != j.model {
		models = append(models, j.fallbackModel)
	}
	for _, model := range models {
		resp, err := j.llm.ChatCompletion(ctx, llm.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   converseMaxTokens,
			Temperature: converseTemperature,
		})
		entry := j.logger.WithField("model", model)
		if err != nil {
			entry.WithField("error", err.Error()).Warn("conversation request failed")
			continue
		}
		if reply := strings.TrimSpace(resp.Content()); reply != "" {
			return reply, true
		}
		entry.Warn("conversation reply was empty")
	}
	return "", false
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
