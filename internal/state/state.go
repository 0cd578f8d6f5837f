// Package state defines the session state shared by every pipeline stage.
package state

// Limits applied across every turn.
const (
	// MaxRetries bounds how many corrected statements the recovery loop
	// may attempt after the initial execution.
	MaxRetries = 2
	// MaxResultRows caps the number of rows returned to the user.
	MaxResultRows = 100
)

// Role tags a conversation message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TermMapping maps a raw user term to its canonical business definition.
type TermMapping struct {
	OriginalTerm string `json:"original_term"`
	StandardName string `json:"standard_name"`
	Description  string `json:"description"`
}

// TableDescriptor describes a candidate table returned by vector retrieval.
type TableDescriptor struct {
	Name           string  `json:"table_name"`
	Description    string  `json:"description"`
	Schema         string  `json:"schema"`
	AdditionalInfo string  `json:"additional_info"`
	Similarity     float64 `json:"similarity_score"`
}

// TableStructure is the parsed structure of a matched table.
type TableStructure struct {
	Name           string `json:"table_name"`
	Columns        string `json:"columns"`
	Description    string `json:"description"`
	AdditionalInfo string `json:"additional_info"`
}

// QueryExample is a retrieved question/SQL pair used as few-shot context.
type QueryExample struct {
	Question string `json:"query_text"`
	SQL      string `json:"query_sql"`
}

// GeneratedSQL holds the SQL variants produced during a turn. Each field is
// written once and never mutated afterwards.
type GeneratedSQL struct {
	// Raw is the statement as generated, before permission rewriting.
	Raw string `json:"sql_query"`
	// PermissionControlled is Raw with row-level authorization subqueries
	// injected. Equal to Raw when no filters apply.
	PermissionControlled string `json:"permission_controlled_sql"`
}

// SQL source labels recorded on execution results.
const (
	SQLSourceGeneration        = "generation"
	SQLSourceErrorAnalysis     = "error_analysis"
	SQLSourcePermissionControl = "permission_control"
)

// ExecutionResult records the outcome of one SQL execution attempt.
type ExecutionResult struct {
	Success     bool             `json:"success"`
	Rows        []map[string]any `json:"rows,omitempty"`
	Columns     []string         `json:"columns,omitempty"`
	RowCount    int              `json:"row_count"`
	Truncated   bool             `json:"truncated"`
	Error       string           `json:"error,omitempty"`
	SQLSource   string           `json:"sql_source,omitempty"`
	ExecutedSQL string           `json:"executed_sql,omitempty"`
}

// ErrorAnalysis is the verdict on a failed execution.
type ErrorAnalysis struct {
	Fixable      bool   `json:"is_sql_fixable"`
	Analysis     string `json:"error_analysis"`
	FixedSQL     string `json:"fixed_sql,omitempty"`
	UserFeedback string `json:"user_feedback,omitempty"`
}

// FeasibilityCheck is the verdict on whether the matched tables can answer
// the query at all.
type FeasibilityCheck struct {
	Feasible     bool   `json:"is_feasible"`
	Analysis     string `json:"feasible_analysis"`
	UserFeedback string `json:"user_feedback,omitempty"`
}

// State is the single mutable record threaded through every stage of one
// conversational turn. It is created on the first turn of a thread and
// persisted between turns by a checkpoint store.
type State struct {
	ThreadID string `json:"thread_id"`
	// UserID is nil for anonymous users, which disables permission
	// enforcement for the turn.
	UserID *int64 `json:"user_id,omitempty"`

	// Messages is append-only within a turn and concatenated across
	// turns. No stage may truncate or reorder it.
	Messages []Message `json:"messages"`

	IsIntentClear     bool                   `json:"is_intent_clear"`
	Keywords          []string               `json:"keywords,omitempty"`
	TermMappings      map[string]TermMapping `json:"domain_term_mappings,omitempty"`
	RewrittenQuery    string                 `json:"rewritten_query,omitempty"`
	MatchedTables     []TableDescriptor      `json:"matched_tables,omitempty"`
	HasRelevantTables bool                   `json:"has_relevant_tables"`
	TableStructures   []TableStructure       `json:"table_structures,omitempty"`
	QueryExamples     []QueryExample         `json:"query_examples,omitempty"`
	GeneratedSQL      *GeneratedSQL          `json:"generated_sql,omitempty"`
	ExecutionResult   *ExecutionResult       `json:"execution_result,omitempty"`
	ErrorAnalysis     *ErrorAnalysis         `json:"error_analysis_result,omitempty"`
	Feasibility       *FeasibilityCheck      `json:"feasibility_check,omitempty"`
	RetryCount        int                    `json:"retry_count"`

	// Err carries a terminal stage failure captured at the engine
	// boundary. Once set, the engine stops routing.
	Err string `json:"error,omitempty"`
}

// Delta is the set of fields a stage changed. Nil fields are untouched;
// Messages is always merged by append, every other field by replacement.
// Slices and maps use nil for "unchanged"; a stage that wants to clear
// one sets a non-nil empty value.
type Delta struct {
	Messages []Message

	IsIntentClear     *bool
	Keywords          []string
	TermMappings      map[string]TermMapping
	RewrittenQuery    *string
	MatchedTables     []TableDescriptor
	HasRelevantTables *bool
	TableStructures   []TableStructure
	QueryExamples     []QueryExample
	GeneratedSQL      *GeneratedSQL
	ExecutionResult   *ExecutionResult
	ErrorAnalysis     *ErrorAnalysis
	Feasibility       *FeasibilityCheck
	RetryCount        *int
	Err               *string
}

// Set returns a pointer to v, for building Delta literals.
func Set[T any](v T) *T { return &v }

// Apply merges d into s. Messages append; everything else replaces.
func (s *State) Apply(d Delta) {
	s.Messages = append(s.Messages, d.Messages...)

	if d.IsIntentClear != nil {
		s.IsIntentClear = *d.IsIntentClear
	}
	if d.Keywords != nil {
		s.Keywords = d.Keywords
	}
	if d.TermMappings != nil {
		s.TermMappings = d.TermMappings
	}
	if d.RewrittenQuery != nil {
		s.RewrittenQuery = *d.RewrittenQuery
	}
	if d.MatchedTables != nil {
		s.MatchedTables = d.MatchedTables
	}
	if d.HasRelevantTables != nil {
		s.HasRelevantTables = *d.HasRelevantTables
	}
	if d.TableStructures != nil {
		s.TableStructures = d.TableStructures
	}
	if d.QueryExamples != nil {
		s.QueryExamples = d.QueryExamples
	}
	if d.GeneratedSQL != nil {
		s.GeneratedSQL = d.GeneratedSQL
	}
	if d.ExecutionResult != nil {
		s.ExecutionResult = d.ExecutionResult
	}
	if d.ErrorAnalysis != nil {
		s.ErrorAnalysis = d.ErrorAnalysis
	}
	if d.Feasibility != nil {
		s.Feasibility = d.Feasibility
	}
	if d.RetryCount != nil {
		s.RetryCount = *d.RetryCount
	}
	if d.Err != nil {
		s.Err = *d.Err
	}
}

// LastAssistantMessage returns the content of the most recent assistant
// message, or "" if none exists.
func (s *State) LastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// ActiveSQL returns the statement the next execution attempt should run:
// the error-analysis fix when one exists, otherwise the
// permission-controlled statement. Exactly one of the two is active at any
// point in a turn.
func (s *State) ActiveSQL() (sql, source string) {
	if s.ErrorAnalysis != nil && s.ErrorAnalysis.FixedSQL != "" {
		return s.ErrorAnalysis.FixedSQL, SQLSourceErrorAnalysis
	}
	if s.GeneratedSQL != nil {
		return s.GeneratedSQL.PermissionControlled, SQLSourceGeneration
	}
	return "", ""
}

// BeginTurn clears the SQL artifacts of the previous turn so a stale
// error-analysis fix can never become the active statement of a new turn.
// Conversation history, identity, and the retry budget are preserved:
// a thread that already exhausted its retries stays exhausted until the
// budget is explicitly reset by an operator.
func (s *State) BeginTurn() {
	s.GeneratedSQL = nil
	s.ExecutionResult = nil
	s.ErrorAnalysis = nil
	s.Feasibility = nil
	s.Err = ""
}
