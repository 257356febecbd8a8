package moderation

import (
	"context"
	"strings"
	"testing"

	"github.com/velzar/velzar/internal/adapters/llm"
)

func TestAIJudgeClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		llm      *stubLLM
		risk     Risk
		category string
		failure  FailureKind
	}{
		{name: "high", llm: replying(verdictJSON("HIGH", "SCAM")), risk: RiskHigh, category: "SCAM"},
		{name: "fenced med", llm: replying("```json\n" + verdictJSON("MED", "ATTACK") + "\n```"), risk: RiskMed, category: "ATTACK"},
		{name: "malformed", llm: replying("```json {not valid} ```"), risk: RiskLow, category: CategoryError, failure: FailureMalformed},
		{name: "empty", llm: replying("   "), risk: RiskLow, category: CategoryError, failure: FailureEmpty},
		{name: "transport", llm: failing(errTransport), risk: RiskLow, category: CategoryError, failure: FailureTransport},
		{name: "rate limited", llm: failing(&llm.StatusError{StatusCode: 429, Message: "slow down"}), risk: RiskLow, category: CategoryError, failure: FailureTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			judge := NewAIJudge(tt.llm, "primary", "secondary")
			got := judge.Classify(context.Background(), "some suspicious text")
			if got.Risk != tt.risk || got.Category != tt.category || got.Failure != tt.failure {
				t.Fatalf("got %+v", got)
			}
			if calls := tt.llm.calls.Load(); calls != 1 {
				t.Fatalf("classification must make exactly one oracle call, made %d", calls)
			}
			if models := tt.llm.models(); models[0] != "primary" {
				t.Fatalf("classification must use the primary model, used %v", models)
			}
		})
	}
}

func TestAIJudgeClassifyRequestShape(t *testing.T) {
	t.Parallel()

	stub := replying(verdictJSON("LOW", "SAFE"))
	judge := NewAIJudge(stub, "primary", "")
	judge.Classify(context.Background(), "hello")

	req := stub.reqs[0]
	if req.MaxTokens != classifyMaxTokens || req.Temperature != classifyTemperature || req.TopP != classifyTopP {
		t.Fatalf("unexpected sampling parameters: %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleSystem || req.Messages[1].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, `"risk"`) {
		t.Fatalf("system instruction must describe the JSON contract")
	}
}

func TestAIJudgeMalformedReasonKeepsExcerpt(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("x", 80)
	judge := NewAIJudge(replying(raw), "primary", "")
	got := judge.Classify(context.Background(), "text")
	want := "JSON Parse Error. Raw: " + strings.Repeat("x", rawExcerptRunes)
	if got.Reason != want {
		t.Fatalf("reason = %q", got.Reason)
	}
}

func TestAIJudgeConverseFallsBackOnce(t *testing.T) {
	t.Parallel()

	stub := &stubLLM{reply: func(req llm.ChatCompletionRequest) (string, error) {
		if req.Model == "primary" {
			return "", errTransport
		}
		return "hola", nil
	}}
	judge := NewAIJudge(stub, "primary", "secondary")
	reply, ok := judge.Converse(context.Background(), []llm.ChatCompletionMessage{{Role: llm.RoleUser, Content: "hi"}})
	if !ok || reply != "hola" {
		t.Fatalf("got %q, %v", reply, ok)
	}
	if got := stub.models(); len(got) != 2 || got[0] != "primary" || got[1] != "secondary" {
		t.Fatalf("models = %v", got)
	}
	if first := stub.reqs[0].Messages[0]; first.Role != llm.RoleSystem {
		t.Fatalf("a system prompt must be prepended, got %+v", first)
	}
}

func TestAIJudgeConverseGivesUpAfterFallback(t *testing.T) {
	t.Parallel()

	stub := replying("")
	judge := NewAIJudge(stub, "primary", "secondary")
	reply, ok := judge.Converse(context.Background(), []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: "custom persona"},
		{Role: llm.RoleUser, Content: "hi"},
	})
	if ok || reply != "" {
		t.Fatalf("got %q, %v", reply, ok)
	}
	if calls := stub.calls.Load(); calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if got := stub.reqs[0].Messages[0].Content; got != "custom persona" {
		t.Fatalf("caller system prompt must be kept, got %q", got)
	}
}
