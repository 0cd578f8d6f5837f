package sqlauth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/querydesk/internal/directory"
)

// fakeDirectory is an in-memory Directory for validator tests.
type fakeDirectory struct {
	users      map[string]int64
	accessible map[int64][]string
	scopes     map[int64][]string
	allTables  []string
	configs    map[string]directory.TablePermission
	err        error
}

func (f *fakeDirectory) UserID(ctx context.Context, username string) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	id, ok := f.users[username]
	return id, ok, nil
}

func (f *fakeDirectory) AccessibleTables(ctx context.Context, userID int64) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accessible[userID], nil
}

func (f *fakeDirectory) ScopePaths(ctx context.Context, userID int64) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scopes[userID], nil
}

func (f *fakeDirectory) AllTableNames(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.allTables, nil
}

func (f *fakeDirectory) TablePermissionConfigs(ctx context.Context, names []string) (map[string]directory.TablePermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]directory.TablePermission)
	for _, n := range names {
		if cfg, ok := f.configs[n]; ok {
			out[n] = cfg
		}
	}
	return out, nil
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:      map[string]int64{"alice": 1, "bob": 2},
		allTables:  []string{"orders", "customers", "hr_salary"},
		accessible: map[int64][]string{1: {"orders", "customers"}, 2: {"orders"}},
		scopes:     map[int64][]string{1: {"12", "34"}},
		configs: map[string]directory.TablePermission{
			"orders":    {TableName: "orders", NeedDeptControl: true, DeptPathField: "dept_path"},
			"customers": {TableName: "customers", NeedDeptControl: false},
			"hr_salary": {TableName: "hr_salary", NeedDeptControl: true, DeptPathField: "dept_path"},
		},
	}
}

func TestVerifyAndRewrite_AuthorizedWithFilter(t *testing.T) {
	v := NewValidator(newFakeDirectory())
	d, err := v.VerifyAndRewrite(context.Background(), 1, "SELECT * FROM orders")
	if err != nil {
		t.Fatalf("VerifyAndRewrite: %v", err)
	}
	if !d.Authorized {
		t.Fatal("want authorized")
	}
	want := "(SELECT * FROM orders WHERE dept_path REGEXP '(^|>)12(>|$)|(^|>)34(>|$)') AS orders"
	if !strings.Contains(d.RewrittenSQL, want) {
		t.Errorf("RewrittenSQL = %q, want it to contain %q", d.RewrittenSQL, want)
	}
}

func TestVerifyAndRewrite_AliasPreserved(t *testing.T) {
	v := NewValidator(newFakeDirectory())
	d, err := v.VerifyAndRewrite(context.Background(), 1, "SELECT o.id FROM orders o WHERE o.id > 5")
	if err != nil {
		t.Fatalf("VerifyAndRewrite: %v", err)
	}
	if !strings.Contains(d.RewrittenSQL, ") AS o WHERE o.id > 5") {
		t.Errorf("alias lost: %q", d.RewrittenSQL)
	}
}

func TestVerifyAndRewrite_NoControlNeeded(t *testing.T) {
	v := NewValidator(newFakeDirectory())
	sql := "SELECT * FROM customers"
	d, err := v.VerifyAndRewrite(context.Background(), 1, sql)
	if err != nil {
		t.Fatalf("VerifyAndRewrite: %v", err)
	}
	if !d.Authorized || d.RewrittenSQL != sql {
		t.Errorf("decision = %+v, want pass-through", d)
	}
}

func TestVerifyAndRewrite_EmptyScopesMeanOrgWide(t *testing.T) {
	dir := newFakeDirectory()
	dir.accessible[2] = []string{"orders"}
	v := NewValidator(dir)
	sql := "SELECT * FROM orders"
	d, err := v.VerifyAndRewrite(context.Background(), 2, sql)
	if err != nil {
		t.Fatalf("VerifyAndRewrite: %v", err)
	}
	if !d.Authorized || d.RewrittenSQL != sql {
		t.Errorf("decision = %+v; no scope paths means unfiltered visibility", d)
	}
}

func TestVerifyAndRewrite_Unauthorized(t *testing.T) {
	v := NewValidator(newFakeDirectory())
	d, err := v.VerifyAndRewrite(context.Background(), 2, "SELECT * FROM hr_salary")
	if err != nil {
		t.Fatalf("VerifyAndRewrite: %v", err)
	}
	if d.Authorized {
		t.Fatal("want refusal")
	}
	if len(d.UnauthorizedTables) != 1 || d.UnauthorizedTables[0] != "hr_salary" {
		t.Errorf("UnauthorizedTables = %v", d.UnauthorizedTables)
	}
}

func TestVerifyAndRewrite_UnparseableRefused(t *testing.T) {
	v := NewValidator(newFakeDirectory())
	d, err := v.VerifyAndRewrite(context.Background(), 1, "SELECT * FROM (orders")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	if d.Authorized {
		t.Error("unparseable SQL must never be authorized")
	}
	if !d.ParseFailed {
		t.Error("ParseFailed not set")
	}
}

func TestVerifyAndRewrite_DirectoryError(t *testing.T) {
	dir := newFakeDirectory()
	dir.err = errors.New("db down")
	v := NewValidator(dir)
	_, err := v.VerifyAndRewrite(context.Background(), 1, "SELECT * FROM orders")
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("err = %v, want propagated directory error", err)
	}
}

func TestVerifyAndRewrite_JoinBothFiltered(t *testing.T) {
	dir := newFakeDirectory()
	dir.accessible[1] = []string{"orders", "hr_salary"}
	v := NewValidator(dir)
	sql := "SELECT o.id FROM orders o JOIN hr_salary h ON o.emp = h.emp"
	d, err := v.VerifyAndRewrite(context.Background(), 1, sql)
	if err != nil {
		t.Fatalf("VerifyAndRewrite: %v", err)
	}
	if !d.Authorized {
		t.Fatal("want authorized")
	}
	if n := strings.Count(d.RewrittenSQL, "REGEXP"); n != 2 {
		t.Errorf("filter count = %d, want 2: %q", n, d.RewrittenSQL)
	}
}

func TestVerifyAndRewrite_NotIdempotent(t *testing.T) {
	// The rewrite is textual; feeding a rewritten statement back in wraps
	// the table a second time. Callers must rewrite the raw statement only.
	v := NewValidator(newFakeDirectory())
	ctx := context.Background()
	first, err := v.VerifyAndRewrite(ctx, 1, "SELECT * FROM orders")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := v.VerifyAndRewrite(ctx, 1, first.RewrittenSQL)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.RewrittenSQL == first.RewrittenSQL {
		t.Skip("rewrite became idempotent; revisit this documented limitation")
	}
}

func TestBuildAuthSubquery_SegmentAnchors(t *testing.T) {
	got := buildAuthSubquery(TableRef{Name: "orders"}, "dept_path", []string{"12"})
	if !strings.Contains(got, "(^|>)12(>|$)") {
		t.Errorf("pattern missing segment anchors: %q", got)
	}
	if !strings.HasSuffix(got, "AS orders") {
		t.Errorf("missing fallback alias: %q", got)
	}
}

func TestReplaceTableRef_FirstOccurrenceOnly(t *testing.T) {
	sql := "SELECT * FROM orders WHERE id IN (SELECT order_id FROM orders)"
	got := replaceTableRef(sql, TableRef{Name: "orders"}, "X")
	if got != "SELECT * FROM X WHERE id IN (SELECT order_id FROM orders)" {
		t.Errorf("got %q", got)
	}
}

func TestReplaceTableRef_WordBoundary(t *testing.T) {
	sql := "SELECT * FROM orders_archive, orders"
	got := replaceTableRef(sql, TableRef{Name: "orders"}, "X")
	if !strings.Contains(got, "orders_archive") {
		t.Errorf("boundary violated: %q", got)
	}
	if !strings.HasSuffix(got, ", X") {
		t.Errorf("got %q", got)
	}
}

func TestAuthorizationError_Message(t *testing.T) {
	e := &AuthorizationError{Tables: []string{"a", "b"}}
	if got := e.Error(); !strings.Contains(got, "a, b") {
		t.Errorf("Error() = %q", got)
	}
}
