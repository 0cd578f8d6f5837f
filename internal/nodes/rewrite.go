package nodes

import (
	"context"
	"fmt"

	"github.com/zulandar/querydesk/internal/state"
)

const rewriteSystemPrompt = `You are a professional data analyst responsible for rewriting user data query requirements into a standardized, clear form.

Rewriting principles:
1. Keep the core intent unchanged; focus on the user's requirements and do not include the assistant's guiding questions
2. Replace non-standard terms with the retrieved standard business terms where they exist
3. Specify the data scope (time, region, etc.) where applicable, but never add restrictions the user did not state
4. Mark the attribution of every query condition clearly
5. Standardize condition expressions and drop irrelevant modifiers

Output requirements:
- One complete declarative query sentence
- Concise and clear, with every necessary condition included`

const rewriteUserPrompt = `Please rewrite the user's query requirements based on the following information:

1. Conversation history:
%s

2. Business term information (if exists):
%s

3. Current date:
%s

Output a JSON object with a "rewritten_query" field.`

type rewriteOutput struct {
	RewrittenQuery string `json:"rewritten_query"`
}

// QueryRewrite produces the standardized query sentence every later stage
// works from.
func (d *Deps) QueryRewrite(ctx context.Context, s *state.State) (state.Delta, error) {
	if len(s.Messages) == 0 {
		return state.Delta{}, fmt.Errorf("nodes: no message history")
	}

	var out rewriteOutput
	user := fmt.Sprintf(rewriteUserPrompt,
		formatHistory(s.Messages),
		formatTermDescriptions(s.TermMappings),
		d.today())
	if err := d.LLM.CompleteJSON(ctx, rewriteSystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: query rewrite: %w", err)
	}

	return state.Delta{RewrittenQuery: state.Set(out.RewrittenQuery)}, nil
}
