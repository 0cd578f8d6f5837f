package nodes

import (
	"github.com/zulandar/querydesk/internal/pipeline"
	"github.com/zulandar/querydesk/internal/state"
)

// RouteAfterIntent ends the turn when intent is unclear so the
// clarification question becomes the answer.
func RouteAfterIntent(s *state.State) pipeline.StageID {
	if !s.IsIntentClear {
		return pipeline.StageEnd
	}
	return pipeline.StageKeywordExtraction
}

// RouteAfterDataSource ends the turn when no relevant tables were found.
func RouteAfterDataSource(s *state.State) pipeline.StageID {
	if !s.HasRelevantTables {
		return pipeline.StageEnd
	}
	return pipeline.StageTableStructure
}

// RouteAfterFeasibility ends the turn when the matched tables cannot answer
// the query.
func RouteAfterFeasibility(s *state.State) pipeline.StageID {
	if s.Feasibility == nil || !s.Feasibility.Feasible {
		return pipeline.StageEnd
	}
	return pipeline.StageQueryExamples
}

// RouteAfterPermission sends authorized statements to execution and
// refusals to error analysis.
func RouteAfterPermission(s *state.State) pipeline.StageID {
	if s.ExecutionResult != nil && s.ExecutionResult.Success {
		return pipeline.StageSQLExecution
	}
	return pipeline.StageErrorAnalysis
}

// RouteAfterExecution sends successful runs to answer writing and failures
// to error analysis.
func RouteAfterExecution(s *state.State) pipeline.StageID {
	if s.ExecutionResult != nil && s.ExecutionResult.Success {
		return pipeline.StageResultGeneration
	}
	return pipeline.StageErrorAnalysis
}

// RouteAfterErrorAnalysis loops back to execution when a fix exists and
// the retry budget allows another attempt, otherwise ends the turn with
// the feedback already in the history.
func RouteAfterErrorAnalysis(s *state.State) pipeline.StageID {
	if s.ErrorAnalysis != nil && s.ErrorAnalysis.Fixable && s.ErrorAnalysis.FixedSQL != "" &&
		s.RetryCount < state.MaxRetries {
		return pipeline.StageSQLExecution
	}
	return pipeline.StageEnd
}
