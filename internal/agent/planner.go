package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wargame-agent/backend/internal/llm"
	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/models"
)

// Goal is what one orchestration session works toward.
type Goal struct {
	Query  string
	UserID string
}

// Plan is a single planner decision: the next tool call, or Done with the
// final answer.
type Plan struct {
	Done     bool
	Answer   string
	ToolName string
	Input    map[string]any
}

// Planner picks the next step of a session from the goal and what has been
// gathered so far.
type Planner interface {
	NextStep(ctx context.Context, goal Goal, session *models.OrchestrationSession) (Plan, error)
}

const maxAnswerItems = 3

// RulePlanner drives a fixed research sequence without any model in the loop:
// stored memories are consulted before the document corpus, then an answer is
// composed from whatever was gathered. Steps are indexed by how many
// iterations the session has already spent, so a failed step is skipped
// rather than replanned forever.
type RulePlanner struct {
	MemoryLimit int
	TopK        int
}

func NewRulePlanner() *RulePlanner {
	return &RulePlanner{
		MemoryLimit: 5,
		TopK:        retrieval.DefaultTopK,
	}
}

func (p *RulePlanner) NextStep(_ context.Context, goal Goal, session *models.OrchestrationSession) (Plan, error) {
	steps := p.sequence(goal)
	if session.IterationCount < len(steps) {
		return steps[session.IterationCount], nil
	}
	return Plan{Done: true, Answer: composeAnswer(goal, session)}, nil
}

func (p *RulePlanner) sequence(goal Goal) []Plan {
	var steps []Plan
	if goal.UserID != "" {
		steps = append(steps, Plan{
			ToolName: ToolMemorySearch,
			Input: map[string]any{
				"query":   goal.Query,
				"user_id": goal.UserID,
				"limit":   float64(p.MemoryLimit),
			},
		})
	}
	steps = append(steps, Plan{
		ToolName: ToolSearchDocs,
		Input: map[string]any{
			"query": goal.Query,
			"top_k": float64(p.TopK),
		},
	})
	return steps
}

func composeAnswer(goal Goal, session *models.OrchestrationSession) string {
	memories, chunks := gatheredEvidence(session)

	if len(memories) == 0 && len(chunks) == 0 {
		return fmt.Sprintf("No stored memories or indexed documents matched %q.", goal.Query)
	}

	var b strings.Builder
	if len(memories) > 0 {
		b.WriteString("From memory:\n")
		for i, hit := range memories {
			if i == maxAnswerItems {
				break
			}
			fmt.Fprintf(&b, "- %s\n", hit.Memory)
		}
	}
	if len(chunks) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("From the document corpus:\n")
		for i, chunk := range chunks {
			if i == maxAnswerItems {
				break
			}
			fmt.Fprintf(&b, "- %s [%s:%d]\n",
				snippet(chunk.Text, 240), chunk.Metadata.DocumentID, chunk.Metadata.ChunkIndex)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func gatheredEvidence(session *models.OrchestrationSession) ([]models.MemoryHit, []models.SearchResult) {
	var memories []models.MemoryHit
	var chunks []models.SearchResult

	for _, result := range session.AccumulatedResults {
		switch out := result.Output.(type) {
		case MemorySearchResult:
			memories = append(memories, out.Results...)
		case SearchDocsResult:
			chunks = append(chunks, out.Results...)
		}
	}
	return memories, chunks
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// LLMClient is the language-model surface the planner needs. *llm.Client
// satisfies it.
type LLMClient interface {
	PlanNextStep(ctx context.Context, req llm.PlanRequest) (*llm.PlanDecision, error)
	SynthesizeAnswer(ctx context.Context, query, memoryContext, docContext string) (string, error)
}

// LLMPlanner asks a language model for each step beyond the first. The first
// step with a known user always consults memory, so stored facts are seen
// before the document corpus regardless of what the model would choose.
type LLMPlanner struct {
	client   LLMClient
	registry *Registry
}

func NewLLMPlanner(client LLMClient, registry *Registry) *LLMPlanner {
	return &LLMPlanner{client: client, registry: registry}
}

func (p *LLMPlanner) NextStep(ctx context.Context, goal Goal, session *models.OrchestrationSession) (Plan, error) {
	if session.IterationCount == 0 && goal.UserID != "" {
		return Plan{
			ToolName: ToolMemorySearch,
			Input: map[string]any{
				"query":   goal.Query,
				"user_id": goal.UserID,
				"limit":   float64(5),
			},
		}, nil
	}

	decision, err := p.client.PlanNextStep(ctx, llm.PlanRequest{
		Query:       goal.Query,
		UserID:      goal.UserID,
		ToolCatalog: renderToolCatalog(p.registry),
		Transcript:  renderTranscript(session),
	})
	if err != nil {
		return Plan{}, fmt.Errorf("failed to plan next step: %w", err)
	}

	switch decision.Action {
	case llm.PlanActionFinal:
		answer := decision.Answer
		if answer == "" {
			memories, chunks := gatheredEvidence(session)
			answer, err = p.client.SynthesizeAnswer(ctx, goal.Query,
				renderMemoryContext(memories), renderDocContext(chunks))
			if err != nil {
				return Plan{}, fmt.Errorf("failed to synthesize answer: %w", err)
			}
		}
		return Plan{Done: true, Answer: answer}, nil

	case llm.PlanActionTool:
		tool, ok := p.registry.Get(decision.Tool)
		if !ok {
			return Plan{}, fmt.Errorf("planner chose unknown tool %q", decision.Tool)
		}
		input := decision.Input
		if input == nil {
			input = map[string]any{}
		}
		if tool.Source == SourceMemory && stringArg(input, "user_id", "") == "" {
			input["user_id"] = goal.UserID
		}
		return Plan{ToolName: tool.Name, Input: input}, nil

	default:
		return Plan{}, fmt.Errorf("planner returned unknown action %q", decision.Action)
	}
}

func renderToolCatalog(registry *Registry) string {
	var b strings.Builder
	for _, tool := range registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
		for _, param := range tool.Params {
			required := ""
			if param.Required {
				required = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s): %s\n", param.Name, param.Type, required, param.Description)
		}
	}
	return b.String()
}

func renderTranscript(session *models.OrchestrationSession) string {
	if len(session.AccumulatedResults) == 0 {
		return "No tools called yet."
	}

	var b strings.Builder
	for _, result := range session.AccumulatedResults {
		payload, err := json.Marshal(result.Output)
		if err != nil {
			payload = []byte(fmt.Sprintf("%v", result.Output))
		}
		fmt.Fprintf(&b, "%s -> %s\n", result.Tool, snippet(string(payload), 600))
	}
	return b.String()
}

func renderMemoryContext(memories []models.MemoryHit) string {
	if len(memories) == 0 {
		return "No relevant memories."
	}
	var b strings.Builder
	for _, hit := range memories {
		fmt.Fprintf(&b, "- [%s] %s\n", hit.MemoryID, hit.Memory)
	}
	return b.String()
}

func renderDocContext(chunks []models.SearchResult) string {
	if len(chunks) == 0 {
		return "No relevant documents."
	}
	var b strings.Builder
	for _, chunk := range chunks {
		fmt.Fprintf(&b, "[%s:%d] %s (%s)\n%s\n\n",
			chunk.Metadata.DocumentID, chunk.Metadata.ChunkIndex,
			chunk.Metadata.Title, chunk.Metadata.Collection, chunk.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
