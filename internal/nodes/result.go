package nodes

import (
	"context"
	"fmt"

	"github.com/zulandar/querydesk/internal/state"
)

const resultSystemPrompt = `You are a professional data analyst responsible for converting SQL query results into clear, understandable natural language descriptions.

## Core Principles
1. Accuracy: present the data faithfully, never over-interpret
2. Clarity: concise language a non-technical user understands
3. Relevance: always answer the user's original query intent
4. Professionalism: use business terminology correctly

## Special Case Handling

### A. Large Datasets (rows > 30)
Explain that the query returned a large amount of data (give the row count for detail queries, omit it for statistical queries) and that the content cannot be displayed in full. Suggest narrowing by time range, adding filter conditions relevant to the original query, or grouping by an appropriate dimension.

### B. Empty Result Set (rows = 0)
For expectation-type queries (quantities, statistics, specific values): confirm nothing was found, list the filter conditions used, offer possible reasons (no matching data, terminology differences, time range, missing data) and suggest a broader query.
For verification-type queries (does X exist): give a direct negative answer restating the conditions checked, without suggestions.

## Result Interpretation
1. Distinguish statistical results from detail rows, never misread one as the other
2. Describe in business language; do not expose database table or field names
3. Always answer the user's original intent directly`

const resultUserPrompt = `Please generate a query result description based on the following information:

1. User's query:
%s

2. Query results:
Total rows: %d
Truncated: %t
Query data source: %s
Query statement: ` + "```%s```" + `
Data preview:
%s

3. Table structures used in the query:
%s

4. Business term explanations:
%s

5. Current date:
%s

Output a JSON object with a "result_description" field.`

type resultOutput struct {
	ResultDescription string `json:"result_description"`
}

// ResultGeneration turns the execution result into the assistant's answer.
func (d *Deps) ResultGeneration(ctx context.Context, s *state.State) (state.Delta, error) {
	if s.ExecutionResult == nil || !s.ExecutionResult.Success {
		return state.Delta{}, fmt.Errorf("nodes: no successful execution result")
	}

	dataSource := "unknown data source"
	if len(s.MatchedTables) > 0 {
		dataSource = s.MatchedTables[0].Name
	}
	sqlQuery := ""
	if s.GeneratedSQL != nil {
		sqlQuery = s.GeneratedSQL.Raw
	}

	var out resultOutput
	user := fmt.Sprintf(resultUserPrompt,
		s.RewrittenQuery,
		s.ExecutionResult.RowCount,
		s.ExecutionResult.Truncated,
		dataSource,
		sqlQuery,
		formatResultsPreview(s.ExecutionResult),
		formatTableStructures(s.TableStructures),
		formatTermDescriptions(s.TermMappings),
		d.today())
	if err := d.LLM.CompleteJSON(ctx, resultSystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: result generation: %w", err)
	}

	return state.Delta{
		Messages: []state.Message{{Role: state.RoleAssistant, Content: out.ResultDescription}},
	}, nil
}
