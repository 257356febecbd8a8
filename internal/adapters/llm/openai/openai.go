package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/velzar/velzar/internal/adapters"
	"github.com/velzar/velzar/internal/adapters/llm"
)

type API struct {
	client *openai.Client
	logger *log.Entry
}

var _ adapters.LLM = (*API)(nil)

// NewOpenAI talks to any OpenAI-compatible endpoint. httpClient may be nil.
func NewOpenAI(apiKey, baseURL string, httpClient *http.Client, logger *log.Entry) *API {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return &API{
		client: openai.NewClientWithConfig(config),
		logger: logger,
	}
}

func (o *API) ChatCompletion(ctx context.Context, req llm.ChatCompletionRequest) (llm.ChatCompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return llm.ChatCompletionResponse{}, mapError(err)
	}

	result := llm.ChatCompletionResponse{Model: resp.Model}
	for _, choice := range resp.Choices {
		result.Choices = append(result.Choices, llm.ChatCompletionChoice{
			Message: llm.ChatCompletionMessage{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
		})
	}
	return result, nil
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &llm.StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &llm.StatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("chat completion: %w", err)
}
