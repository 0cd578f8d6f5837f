package nodes

import (
	"strings"
	"testing"

	"github.com/zulandar/querydesk/internal/state"
)

func TestFormatHistory(t *testing.T) {
	got := formatHistory([]state.Message{
		{Role: state.RoleUser, Content: "how many orders?"},
		{Role: state.RoleAssistant, Content: "which month?"},
	})
	want := "User: how many orders?\nAssistant: which month?"
	if got != want {
		t.Errorf("formatHistory = %q, want %q", got, want)
	}
}

func TestFormatTermDescriptions(t *testing.T) {
	if got := formatTermDescriptions(nil); got != "No business term explanations" {
		t.Errorf("empty = %q", got)
	}
	got := formatTermDescriptions(map[string]state.TermMapping{
		"GMV": {OriginalTerm: "GMV", StandardName: "order_amount", Description: "sum of paid orders"},
	})
	if !strings.Contains(got, "GMV") || !strings.Contains(got, "order_amount") {
		t.Errorf("got %q", got)
	}
}

func TestFormatTableStructures(t *testing.T) {
	if got := formatTableStructures(nil); got != "No available table structure information" {
		t.Errorf("empty = %q", got)
	}
	got := formatTableStructures([]state.TableStructure{
		{Name: "orders", Columns: "id INT\namount DECIMAL"},
	})
	if !strings.Contains(got, "Table name: orders") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "No description") || !strings.Contains(got, "No additional info") {
		t.Errorf("missing placeholders: %q", got)
	}
}

func TestFormatCandidateTables(t *testing.T) {
	got := formatCandidateTables([]state.TableDescriptor{
		{Name: "orders", Description: "order facts"},
		{Name: "customers", Description: "customer master"},
	})
	if !strings.Contains(got, "1. Table name: orders") || !strings.Contains(got, "2. Table name: customers") {
		t.Errorf("got %q", got)
	}
}

func TestFormatQueryExamples(t *testing.T) {
	if got := formatQueryExamples(nil); got != "No related examples" {
		t.Errorf("empty = %q", got)
	}
	got := formatQueryExamples([]state.QueryExample{
		{Question: "count orders", SQL: "SELECT COUNT(*) FROM orders"},
	})
	if !strings.Contains(got, "Example query: [count orders]") {
		t.Errorf("got %q", got)
	}
}

func TestFormatResultsPreview(t *testing.T) {
	if got := formatResultsPreview(nil); got != "No data" {
		t.Errorf("nil = %q", got)
	}
	if got := formatResultsPreview(&state.ExecutionResult{}); got != "No data" {
		t.Errorf("empty = %q", got)
	}

	r := &state.ExecutionResult{
		Columns: []string{"month", "total"},
		Rows: []map[string]any{
			{"month": "2025-05", "total": 1200},
		},
	}
	got := formatResultsPreview(r)
	if !strings.HasPrefix(got, "| month | total |") {
		t.Errorf("header missing: %q", got)
	}
	if !strings.Contains(got, "| 2025-05 | 1200 |") {
		t.Errorf("row missing: %q", got)
	}
}

func TestFormatResultsPreview_TooLarge(t *testing.T) {
	rows := make([]map[string]any, previewRowLimit+1)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	r := &state.ExecutionResult{Columns: []string{"n"}, Rows: rows}
	if got := formatResultsPreview(r); got != "Result set too large, not displaying specific data" {
		t.Errorf("got %q", got)
	}
}
