// Package llm wraps the chat-completion API used for agent planning and
// answer synthesis. Every call runs under a circuit breaker and retry policy.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/pkg/circuitbreaker"
	"github.com/wargame-agent/backend/pkg/logger"
	"github.com/wargame-agent/backend/pkg/retry"
)

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.Breaker
	retryPolicy retry.Policy
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model string, temperature float32, maxTokens int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryPolicy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Logger:      logger.GetLogger(),
	}

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		cb:          cb,
		retryPolicy: retryPolicy,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// Plan actions.
const (
	PlanActionTool  = "tool"
	PlanActionFinal = "final"
)

// PlanRequest carries the rendered session state for one planning call. The
// caller renders ToolCatalog and Transcript so this package stays ignorant of
// tool and session types.
type PlanRequest struct {
	Query       string
	UserID      string
	ToolCatalog string
	Transcript  string
}

// PlanDecision is the model's parsed next-step choice.
type PlanDecision struct {
	Action string         `json:"action"`
	Tool   string         `json:"tool,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
	Answer string         `json:"answer,omitempty"`
}

// PlanNextStep asks the model which tool to call next, or whether enough has
// been gathered to answer.
func (c *Client) PlanNextStep(ctx context.Context, req PlanRequest) (*PlanDecision, error) {
	systemPrompt := `You are the planning controller of a wargame research agent. You decide the single next step of a research session.

Rules:
- Consult memory_search before search_wargame_docs when a user is known.
- Do not call a tool whose result is already in the transcript.
- When the transcript holds enough evidence to answer, finish.

Respond with ONE JSON object and nothing else:
  {"action": "tool", "tool": "<tool name>", "input": {<tool arguments>}}
or
  {"action": "final", "answer": "<answer text, cite documents as [document_id:chunk_index]>"}`

	userPrompt := fmt.Sprintf(`Question: %s
User: %s

Available tools:
%s

Transcript so far:
%s

Decide the next step. JSON only.`, req.Query, req.UserID, req.ToolCatalog, req.Transcript)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    400,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to plan next step: %w", err)
	}

	decision, err := parsePlanDecision(resp.Content)
	if err != nil {
		return nil, err
	}

	logger.Debug("Plan decision",
		zap.String("action", decision.Action),
		zap.String("tool", decision.Tool),
	)

	return decision, nil
}

// SynthesizeAnswer turns gathered memory and document evidence into a
// grounded answer for the user.
func (c *Client) SynthesizeAnswer(ctx context.Context, query, memoryContext, docContext string) (string, error) {
	systemPrompt := `You are a wargame analysis assistant. Answer from the provided memories and document excerpts only.

Your answers must:
1. Be grounded strictly in the provided context
2. Cite document evidence as [document_id:chunk_index]
3. Distinguish remembered facts from doctrinal sources
4. Say plainly when the context does not cover the question

Be concise and specific.`

	userPrompt := fmt.Sprintf(`Question: %s

Stored memories:
%s

Document excerpts:
%s

Answer the question.`, query, memoryContext, docContext)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.2,
		MaxTokens:    1024,
	})

	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}

	logger.Info("Answer synthesized",
		zap.String("query", query),
		zap.Int("answer_length", len(resp.Content)),
	)

	return resp.Content, nil
}

// parsePlanDecision extracts the JSON object from model output that may be
// wrapped in prose or a code fence.
func parsePlanDecision(content string) (*PlanDecision, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("plan response contains no JSON object: %q", snippet(content))
	}

	var decision PlanDecision
	if err := json.Unmarshal([]byte(content[start:end+1]), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse plan response: %w", err)
	}

	switch decision.Action {
	case PlanActionTool:
		if decision.Tool == "" {
			return nil, fmt.Errorf("plan action %q names no tool", PlanActionTool)
		}
	case PlanActionFinal:
	default:
		return nil, fmt.Errorf("plan response has unknown action %q", decision.Action)
	}

	return &decision, nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
