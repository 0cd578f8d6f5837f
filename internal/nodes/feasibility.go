package nodes

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/querydesk/internal/state"
	"github.com/zulandar/querydesk/internal/vector"
)

const feasibilitySystemPrompt = `You are a professional data analysis expert who must rigorously evaluate whether data tables can provide complete and accurate information to answer a user query.

Assessment steps:
1. Analyze the basic attributes of the data tables: main purpose, update characteristics, coverage scope
2. Analyze the query's data requirements: core information, business scope, whether point-in-time accuracy matters
3. Strict matching: judge feasible only when the tables' purpose is directly related, they contain the complete required information, their coverage meets the query, and they can provide accurate results
4. Judge not feasible when statistical scope does not match, completeness cannot be guaranteed, or complex derivation would be required

Output requirements:
a) feasible_analysis: the core data requirements, the key information of the tables, and the main reason for the verdict, kept concise
b) When not feasible, user_feedback must distinguish between no related tables existing and related tables lacking fields, describe tables in natural language without exposing database table names, and stay concise`

const feasibilityUserPrompt = `Please evaluate whether the following data tables contain sufficient information to answer the user query:

1. User query requirements:
%s

2. Existing data table structures:
%s

3. Related business term explanations (if exist):
%s

Output a JSON object with fields "feasible_analysis" (string), "is_feasible" (boolean), and "user_feedback" (string, empty when feasible).`

type feasibilityOutput struct {
	FeasibleAnalysis string `json:"feasible_analysis"`
	IsFeasible       bool   `json:"is_feasible"`
	UserFeedback     string `json:"user_feedback"`
}

// FeasibilityCheck decides whether the matched tables can answer the query
// at all before any SQL is written.
func (d *Deps) FeasibilityCheck(ctx context.Context, s *state.State) (state.Delta, error) {
	if s.RewrittenQuery == "" {
		return state.Delta{}, fmt.Errorf("nodes: rewritten query not available")
	}
	if len(s.TableStructures) == 0 {
		return state.Delta{}, fmt.Errorf("nodes: table structures not available")
	}

	var out feasibilityOutput
	user := fmt.Sprintf(feasibilityUserPrompt,
		s.RewrittenQuery,
		formatTableStructures(s.TableStructures),
		formatTermDescriptions(s.TermMappings))
	if err := d.LLM.CompleteJSON(ctx, feasibilitySystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: feasibility check: %w", err)
	}

	check := &state.FeasibilityCheck{
		Feasible: out.IsFeasible,
		Analysis: out.FeasibleAnalysis,
	}
	delta := state.Delta{Feasibility: check}
	if !out.IsFeasible {
		check.UserFeedback = out.UserFeedback
		if out.UserFeedback != "" {
			delta.Messages = []state.Message{{Role: state.RoleAssistant, Content: out.UserFeedback}}
		}
	}
	return delta, nil
}

// queryExampleLimit bounds few-shot example retrieval.
const queryExampleLimit = 2

// QueryExamples retrieves the most similar question/SQL pairs as few-shot
// context. Retrieval failures degrade to no examples rather than failing
// the turn.
func (d *Deps) QueryExamples(ctx context.Context, s *state.State) (state.Delta, error) {
	examples := []state.QueryExample{}
	if s.RewrittenQuery == "" {
		return state.Delta{QueryExamples: examples}, nil
	}

	vec, err := d.Embedder.Embed(ctx, s.RewrittenQuery)
	if err != nil {
		log.Printf("nodes: embed for example retrieval: %v", err)
		return state.Delta{QueryExamples: examples}, nil
	}
	matches, err := d.Searcher.Search(ctx, vector.CollectionQueryExamples, vec, queryExampleLimit)
	if err != nil {
		log.Printf("nodes: example search: %v", err)
		return state.Delta{QueryExamples: examples}, nil
	}

	for _, m := range matches {
		examples = append(examples, state.QueryExample{
			Question: m.Str("query_text"),
			SQL:      m.Str("query_sql"),
		})
	}
	return state.Delta{QueryExamples: examples}, nil
}
