package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanDecisionToolAction(t *testing.T) {
	content := "Here is my decision:\n```json\n{\"action\": \"tool\", \"tool\": \"memory_search\", \"input\": {\"query\": \"opfor armor\", \"limit\": 5}}\n```"

	decision, err := parsePlanDecision(content)
	require.NoError(t, err)

	assert.Equal(t, PlanActionTool, decision.Action)
	assert.Equal(t, "memory_search", decision.Tool)
	assert.Equal(t, "opfor armor", decision.Input["query"])
	assert.Equal(t, float64(5), decision.Input["limit"])
}

func TestParsePlanDecisionFinalAction(t *testing.T) {
	decision, err := parsePlanDecision(`{"action": "final", "answer": "OPFOR leads with armor [abc123:0]."}`)
	require.NoError(t, err)

	assert.Equal(t, PlanActionFinal, decision.Action)
	assert.Equal(t, "OPFOR leads with armor [abc123:0].", decision.Answer)
}

func TestParsePlanDecisionRejectsMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"no json":        "I think we should search the documents next.",
		"unknown action": `{"action": "ponder"}`,
		"tool unnamed":   `{"action": "tool", "input": {"query": "x"}}`,
		"broken json":    `{"action": "tool", "tool": `,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parsePlanDecision(content)
			assert.Error(t, err)
		})
	}
}
