package nodes

import (
	"context"
	"fmt"

	"github.com/zulandar/querydesk/internal/state"
)

const intentSystemPrompt = `You are a professional data query assistant responsible for judging whether a user's data query request is executable. Analyze the intent pragmatically.

Judgment criteria:
1. Clear query objective: it is understandable what data the user wants
2. Filter conditions, if any, are clear (not mandatory)
3. Time ranges, if any, are clear (not mandatory)
4. Unknown proprietary or domain terms are allowed; they are resolved later
5. Be tolerant of vague but inferable queries

Output requirements:
1. If this is not a data query request, set is_intent_clear to false and write a reply explaining you only handle data query questions
2. If intent is clear, set is_intent_clear to true
3. If intent is unclear, set is_intent_clear to false and ask a specific question naming the missing information`

const intentUserPrompt = `Please analyze the following user's data query request:

User query:
%s

Output the analysis result as a JSON object with fields "is_intent_clear" (boolean) and "clarification_question" (string, empty when intent is clear).`

type intentOutput struct {
	IsIntentClear         bool   `json:"is_intent_clear"`
	ClarificationQuestion string `json:"clarification_question"`
}

// IntentAnalysis judges whether the conversation contains enough
// information to attempt a query. When it does not, the clarification
// question is appended as the assistant's reply and the turn ends there.
func (d *Deps) IntentAnalysis(ctx context.Context, s *state.State) (state.Delta, error) {
	if len(s.Messages) == 0 {
		return state.Delta{}, fmt.Errorf("nodes: no message history")
	}

	var out intentOutput
	user := fmt.Sprintf(intentUserPrompt, formatHistory(s.Messages))
	if err := d.LLM.CompleteJSON(ctx, intentSystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: intent analysis: %w", err)
	}

	delta := state.Delta{IsIntentClear: state.Set(out.IsIntentClear)}
	if !out.IsIntentClear && out.ClarificationQuestion != "" {
		delta.Messages = []state.Message{{Role: state.RoleAssistant, Content: out.ClarificationQuestion}}
	}
	return delta, nil
}
