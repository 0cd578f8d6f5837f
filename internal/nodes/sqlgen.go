package nodes

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/querydesk/internal/state"
)

const sqlGenSystemPrompt = `You are a professional data analyst responsible for generating high-quality SQL query statements. Think systematically and follow these steps:

### I. Query Intent Analysis
1. Clarify what data the user wants, the business scope, any time range, and whether detail or aggregate data is needed
2. Classify the implementation: direct retrieval, statistics-dependent, detail-dependent, or multi-level

### II. Query Structure Design
1. Single table priority: only join when single-table possibilities are exhausted and fields from other tables are genuinely required
2. Pick the query type: direct SELECT, subquery, or progressive multi-step

### III. SQL Writing Standards
1. Limit to 5 selected fields unless the user asks otherwise; GROUP BY at most 2 fields; never SELECT *; alias calculated fields
2. Filter with WHERE; use LIKE '%%keyword%%' for fuzzy matching on ambiguous fields; handle NULLs; use subqueries when they help
3. Handle dates with DATE/DATETIME functions and mind string date conversions

### IV. Example Reference
Refer to the writing patterns in any provided examples without copying them; the generated SQL must match the current requirements exactly.

### V. Important Notes
1. Use MYSQL syntax
2. Strictly check which table each field belongs to
3. Use the standard term names and additional information from the business term explanations for query conditions`

const sqlGenUserPrompt = `Please generate a SQL query statement based on the following information:

1. Query requirements:
%s

2. Available table structures:
%s

3. Business term explanations (if exist):
%s

4. Current date:
%s

5. Query examples (the user's actual requirements may differ from the examples; do not reuse them directly):
%s

Output a JSON object with a "sql_query" field.`

type sqlGenOutput struct {
	SQLQuery string `json:"sql_query"`
}

// SQLGeneration writes the statement that permission control will vet.
func (d *Deps) SQLGeneration(ctx context.Context, s *state.State) (state.Delta, error) {
	if s.RewrittenQuery == "" {
		return state.Delta{}, fmt.Errorf("nodes: rewritten query not available")
	}
	if len(s.TableStructures) == 0 {
		return state.Delta{}, fmt.Errorf("nodes: table structures not available")
	}

	var out sqlGenOutput
	user := fmt.Sprintf(sqlGenUserPrompt,
		s.RewrittenQuery,
		formatTableStructures(s.TableStructures),
		formatTermDescriptions(s.TermMappings),
		d.today(),
		formatQueryExamples(s.QueryExamples))
	if err := d.LLM.CompleteJSON(ctx, sqlGenSystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: sql generation: %w", err)
	}
	log.Printf("nodes: generated SQL: %s", out.SQLQuery)

	return state.Delta{GeneratedSQL: &state.GeneratedSQL{Raw: out.SQLQuery}}, nil
}
