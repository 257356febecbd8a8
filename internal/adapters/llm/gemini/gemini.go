package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/velzar/velzar/internal/adapters"
	"github.com/velzar/velzar/internal/adapters/llm"
)

const DefaultModel = "gemini-2.5-flash-lite"

type generator interface {
	generate(ctx context.Context, req llm.ChatCompletionRequest) (string, error)
}

type API struct {
	gen          generator
	retryWaitMax time.Duration
	logger       *log.Entry
}

var _ adapters.LLM = (*API)(nil)

func NewGemini(ctx context.Context, apiKey string, retryWaitMax time.Duration, logger *log.Entry) (*API, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if retryWaitMax <= 0 {
		retryWaitMax = llm.DefaultRetryWaitMax
	}
	return &API{
		gen:          &genaiGenerator{client: client},
		retryWaitMax: retryWaitMax,
		logger:       logger,
	}, nil
}

// ChatCompletion mirrors the HTTP transport policy: one retry when the quota is exhausted,
// after the server-advised delay.
func (g *API) ChatCompletion(ctx context.Context, req llm.ChatCompletionRequest) (llm.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}
	content, err := g.gen.generate(ctx, req)
	if delay, limited := rateLimitDelay(err, g.retryWaitMax); limited {
		g.logger.WithField("delay", delay.String()).Warn("gemini quota exhausted, retrying once")
		select {
		case <-ctx.Done():
			return llm.ChatCompletionResponse{}, ctx.Err()
		case <-time.After(delay):
		}
		content, err = g.gen.generate(ctx, req)
	}
	if err != nil {
		if _, limited := rateLimitDelay(err, 0); limited {
			return llm.ChatCompletionResponse{}, &llm.StatusError{StatusCode: http.StatusTooManyRequests, Message: err.Error()}
		}
		return llm.ChatCompletionResponse{}, fmt.Errorf("gemini generate: %w", err)
	}
	resp := llm.ChatCompletionResponse{Model: req.Model}
	if content != "" {
		resp.Choices = []llm.ChatCompletionChoice{{Message: llm.ChatCompletionMessage{Role: llm.RoleAssistant, Content: content}}}
	}
	return resp, nil
}

func rateLimitDelay(err error, maxWait time.Duration) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	limited := apiErr.HTTPCode() == http.StatusTooManyRequests
	if st := apiErr.GRPCStatus(); st != nil && st.Code() == codes.ResourceExhausted {
		limited = true
	}
	if !limited {
		return 0, false
	}
	var delay time.Duration
	if info := apiErr.Details().RetryInfo; info != nil && info.GetRetryDelay() != nil {
		delay = info.GetRetryDelay().AsDuration()
	}
	if delay > maxWait {
		delay = maxWait
	}
	return delay, true
}

type genaiGenerator struct {
	client *genai.Client
}

func (g *genaiGenerator) generate(ctx context.Context, req llm.ChatCompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("no messages")
	}
	model := g.client.GenerativeModel(req.Model)
	model.SetTemperature(req.Temperature)
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	model.SafetySettings = permissiveSafetySettings()

	session := model.StartChat()
	messages := req.Messages
	last := messages[len(messages)-1]
	for _, message := range messages[:len(messages)-1] {
		switch message.Role {
		case llm.RoleSystem:
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(message.Content)}}
		case llm.RoleAssistant:
			session.History = append(session.History, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(message.Content)}})
		default:
			session.History = append(session.History, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(message.Content)}})
		}
	}

	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// the classifier must see abusive content to judge it
func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{Category: category, Threshold: genai.HarmBlockNone})
	}
	return settings
}
