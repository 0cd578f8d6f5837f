package nodes

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/querydesk/internal/state"
)

// PermissionControl vets the generated statement for the current user and
// injects row-level filters. It never errors the turn: refusals and
// infrastructure failures become failed execution results so the route
// hands them to error analysis.
func (d *Deps) PermissionControl(ctx context.Context, s *state.State) (state.Delta, error) {
	if s.GeneratedSQL == nil || s.GeneratedSQL.Raw == "" {
		return state.Delta{ExecutionResult: &state.ExecutionResult{
			Success: false,
			Error:   "generated SQL not found",
		}}, nil
	}
	raw := s.GeneratedSQL.Raw

	if !d.AuthEnabled {
		return state.Delta{
			GeneratedSQL:    &state.GeneratedSQL{Raw: raw, PermissionControlled: raw},
			ExecutionResult: &state.ExecutionResult{Success: true},
		}, nil
	}

	if s.UserID == nil {
		return state.Delta{ExecutionResult: &state.ExecutionResult{
			Success:   false,
			Error:     "user identity not established",
			SQLSource: state.SQLSourcePermissionControl,
		}}, nil
	}

	decision, err := d.Auth.VerifyAndRewrite(ctx, *s.UserID, raw)
	if err != nil && !decision.ParseFailed {
		log.Printf("nodes: permission check: %v", err)
		return state.Delta{ExecutionResult: &state.ExecutionResult{
			Success:   false,
			Error:     fmt.Sprintf("permission verification error: %v", err),
			SQLSource: state.SQLSourcePermissionControl,
		}}, nil
	}
	if decision.ParseFailed {
		return state.Delta{ExecutionResult: &state.ExecutionResult{
			Success:   false,
			Error:     "permission verification failed: statement could not be parsed",
			SQLSource: state.SQLSourcePermissionControl,
		}}, nil
	}
	if !decision.Authorized {
		return state.Delta{ExecutionResult: &state.ExecutionResult{
			Success: false,
			Error: fmt.Sprintf("permission verification failed: no access to tables %s",
				strings.Join(decision.UnauthorizedTables, ", ")),
			SQLSource: state.SQLSourcePermissionControl,
		}}, nil
	}

	return state.Delta{
		GeneratedSQL:    &state.GeneratedSQL{Raw: raw, PermissionControlled: decision.RewrittenSQL},
		ExecutionResult: &state.ExecutionResult{Success: true},
	}, nil
}
