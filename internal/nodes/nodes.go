// Package nodes implements the pipeline stages that carry a question from
// intent analysis through SQL generation, authorization, execution, and
// answer writing.
package nodes

import (
	"context"
	"time"

	"github.com/zulandar/querydesk/internal/checkpoint"
	"github.com/zulandar/querydesk/internal/llm"
	"github.com/zulandar/querydesk/internal/pipeline"
	"github.com/zulandar/querydesk/internal/sqlauth"
	"github.com/zulandar/querydesk/internal/state"
	"github.com/zulandar/querydesk/internal/vector"
)

// Authorizer verifies table access and injects row-level filters.
type Authorizer interface {
	VerifyAndRewrite(ctx context.Context, userID int64, sql string) (sqlauth.Decision, error)
}

// Executor runs SQL against the query backend.
type Executor interface {
	Query(ctx context.Context, sql string) *state.ExecutionResult
}

// Deps bundles the collaborators every stage draws from. All of them are
// interfaces so tests can swap in fakes.
type Deps struct {
	LLM      llm.Client
	Embedder vector.Embedder
	Searcher vector.Searcher
	Auth     Authorizer
	Executor Executor

	// AuthEnabled gates permission control entirely. When false every
	// statement passes through unmodified.
	AuthEnabled bool

	// SimilarityThreshold is the minimum score for a term mapping match.
	SimilarityThreshold float64

	// TopK bounds candidate table retrieval.
	TopK int

	// Now supplies the current date for prompts. Nil means time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) today() string {
	return d.now().Format("2006-01-02")
}

// Build wires all stages into a compiled graph backed by store.
func Build(d *Deps, store checkpoint.Store) (*pipeline.Graph, error) {
	b := pipeline.NewBuilder()

	b.AddNode(pipeline.StageIntentAnalysis, d.IntentAnalysis)
	b.AddNode(pipeline.StageKeywordExtraction, d.KeywordExtraction)
	b.AddNode(pipeline.StageTermMapping, d.TermMapping)
	b.AddNode(pipeline.StageQueryRewrite, d.QueryRewrite)
	b.AddNode(pipeline.StageDataSource, d.DataSource)
	b.AddNode(pipeline.StageTableStructure, d.TableStructure)
	b.AddNode(pipeline.StageFeasibilityCheck, d.FeasibilityCheck)
	b.AddNode(pipeline.StageQueryExamples, d.QueryExamples)
	b.AddNode(pipeline.StageSQLGeneration, d.SQLGeneration)
	b.AddNode(pipeline.StagePermissionControl, d.PermissionControl)
	b.AddNode(pipeline.StageSQLExecution, d.SQLExecution)
	b.AddNode(pipeline.StageErrorAnalysis, d.ErrorAnalysis)
	b.AddNode(pipeline.StageResultGeneration, d.ResultGeneration)

	b.SetEntry(pipeline.StageIntentAnalysis)

	b.AddConditionalEdge(pipeline.StageIntentAnalysis, RouteAfterIntent)
	b.AddEdge(pipeline.StageKeywordExtraction, pipeline.StageTermMapping)
	b.AddEdge(pipeline.StageTermMapping, pipeline.StageQueryRewrite)
	b.AddEdge(pipeline.StageQueryRewrite, pipeline.StageDataSource)
	b.AddConditionalEdge(pipeline.StageDataSource, RouteAfterDataSource)
	b.AddEdge(pipeline.StageTableStructure, pipeline.StageFeasibilityCheck)
	b.AddConditionalEdge(pipeline.StageFeasibilityCheck, RouteAfterFeasibility)
	b.AddEdge(pipeline.StageQueryExamples, pipeline.StageSQLGeneration)
	b.AddEdge(pipeline.StageSQLGeneration, pipeline.StagePermissionControl)
	b.AddConditionalEdge(pipeline.StagePermissionControl, RouteAfterPermission)
	b.AddConditionalEdge(pipeline.StageSQLExecution, RouteAfterExecution)
	b.AddConditionalEdge(pipeline.StageErrorAnalysis, RouteAfterErrorAnalysis)
	b.AddEdge(pipeline.StageResultGeneration, pipeline.StageEnd)

	return b.Compile(store)
}
