package nodes

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/querydesk/internal/state"
)

// maxRetriesExceeded is the terminal error recorded when a fix attempt
// would exceed the retry budget.
const maxRetriesExceeded = "maximum retry attempts exceeded"

// SQLExecution runs the active statement: the error-analysis fix when one
// exists, otherwise the permission-controlled SQL. Only fix attempts
// consume the retry budget; the initial statement of a turn is free, so
// RetryCount never exceeds MaxRetries.
func (d *Deps) SQLExecution(ctx context.Context, s *state.State) (state.Delta, error) {
	retrying := s.ErrorAnalysis != nil && s.ErrorAnalysis.FixedSQL != ""
	if retrying && s.RetryCount >= state.MaxRetries {
		return state.Delta{ExecutionResult: &state.ExecutionResult{
			Success: false,
			Error:   maxRetriesExceeded,
		}}, nil
	}

	sql, source := s.ActiveSQL()
	if sql == "" {
		return state.Delta{ExecutionResult: &state.ExecutionResult{
			Success: false,
			Error:   "permission-controlled SQL not found",
		}}, nil
	}

	result := d.Executor.Query(ctx, sql)
	result.SQLSource = source
	result.ExecutedSQL = sql
	if result.Success {
		log.Printf("nodes: execution returned %d rows", result.RowCount)
	} else {
		log.Printf("nodes: execution failed: %s", result.Error)
	}

	delta := state.Delta{ExecutionResult: result}
	if retrying {
		delta.RetryCount = state.Set(s.RetryCount + 1)
	}
	return delta, nil
}

const errorAnalysisSystemPrompt = `You are a professional data analyst responsible for analyzing SQL execution failures and providing solutions.

1. Error type analysis: syntax errors, field errors, data errors, permission errors, connection errors, other system errors
2. Repairability: repairable means the problem is solved by modifying the SQL statement (syntax, field names); non-repairable means it needs a system-level fix (permissions, connections)
3. Repair suggestions: for repairable errors provide a corrected SQL statement that matches the original intent and uses correct table and field names
4. User feedback: for permission issues, say which data the user lacks access to in natural language without exposing database table names and suggest contacting the data team; for other non-repairable issues, explain plainly, give follow-up suggestions, and apologize appropriately

Output requirements: state whether the error is fixable by modifying SQL, explain the cause, provide the corrected SQL when fixable, and provide user-friendly feedback when not.`

const errorAnalysisUserPrompt = `Please analyze the cause of the following SQL execution failure and provide a solution:

1. Original query requirements:
%s

2. Available table structures:
%s

3. Business term explanations:
%s

4. Current date:
%s

5. Failed SQL:
%s

6. Error message:
%s

Output a JSON object with fields "error_analysis" (string), "is_sql_fixable" (boolean), "fixed_sql" (string, empty when not fixable), and "user_feedback" (string, empty when fixable).`

type errorAnalysisOutput struct {
	ErrorAnalysis string `json:"error_analysis"`
	IsSQLFixable  bool   `json:"is_sql_fixable"`
	FixedSQL      string `json:"fixed_sql"`
	UserFeedback  string `json:"user_feedback"`
}

// ErrorAnalysis diagnoses a failed execution and, when the problem is in
// the statement itself, produces the fix the recovery loop will run next.
func (d *Deps) ErrorAnalysis(ctx context.Context, s *state.State) (state.Delta, error) {
	if s.ExecutionResult == nil || s.ExecutionResult.Success {
		return state.Delta{}, fmt.Errorf("nodes: no failed execution result")
	}

	failedSQL := s.ExecutionResult.ExecutedSQL
	if failedSQL == "" && s.GeneratedSQL != nil {
		failedSQL = s.GeneratedSQL.PermissionControlled
	}

	var out errorAnalysisOutput
	user := fmt.Sprintf(errorAnalysisUserPrompt,
		s.RewrittenQuery,
		formatTableStructures(s.TableStructures),
		formatTermDescriptions(s.TermMappings),
		d.today(),
		failedSQL,
		s.ExecutionResult.Error)
	if err := d.LLM.CompleteJSON(ctx, errorAnalysisSystemPrompt, user, &out); err != nil {
		return state.Delta{}, fmt.Errorf("nodes: error analysis: %w", err)
	}
	log.Printf("nodes: error analysis fixable=%v", out.IsSQLFixable)

	analysis := &state.ErrorAnalysis{
		Fixable:  out.IsSQLFixable,
		Analysis: out.ErrorAnalysis,
	}
	if out.IsSQLFixable {
		analysis.FixedSQL = out.FixedSQL
	} else {
		analysis.UserFeedback = out.UserFeedback
	}

	delta := state.Delta{ErrorAnalysis: analysis}
	if analysis.UserFeedback != "" {
		delta.Messages = []state.Message{{Role: state.RoleAssistant, Content: analysis.UserFeedback}}
	}
	return delta, nil
}
