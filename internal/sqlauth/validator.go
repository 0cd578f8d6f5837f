package sqlauth

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zulandar/querydesk/internal/directory"
)

// AuthorizationError reports the tables a query referenced without access.
type AuthorizationError struct {
	Tables []string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("sqlauth: no access to tables: %s", strings.Join(e.Tables, ", "))
}

// Decision is the outcome of verifying one statement for one user.
type Decision struct {
	Authorized bool
	// RewrittenSQL is the statement to execute when authorized: the
	// original SQL with row-level filters injected where required.
	RewrittenSQL string
	// UnauthorizedTables lists every referenced table outside the
	// user's accessible set. Empty with ParseFailed set when the
	// statement could not be tokenized.
	UnauthorizedTables []string
	// ParseFailed marks a refusal caused by unparseable SQL rather
	// than a missing grant.
	ParseFailed bool
}

// Validator checks table-level authorization and injects department scope
// filters into generated SQL.
type Validator struct {
	dir directory.Directory
}

// NewValidator returns a Validator backed by dir.
func NewValidator(dir directory.Directory) *Validator {
	return &Validator{dir: dir}
}

// VerifyAndRewrite extracts the tables referenced by sql, verifies the
// user may read all of them, and wraps each row-filtered table in an
// authorization subquery. Unparseable SQL is refused outright, never
// silently allowed.
func (v *Validator) VerifyAndRewrite(ctx context.Context, userID int64, sql string) (Decision, error) {
	known, err := v.dir.AllTableNames(ctx)
	if err != nil {
		return Decision{}, err
	}

	refs, err := ExtractTables(sql, known)
	if err != nil {
		return Decision{ParseFailed: true}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	accessible, err := v.dir.AccessibleTables(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	accessibleSet := make(map[string]bool, len(accessible))
	for _, name := range accessible {
		accessibleSet[strings.ToLower(name)] = true
	}

	var unauthorized []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		lower := strings.ToLower(ref.Name)
		if !accessibleSet[lower] && !seen[lower] {
			unauthorized = append(unauthorized, ref.Name)
			seen[lower] = true
		}
	}
	if len(unauthorized) > 0 {
		return Decision{UnauthorizedTables: unauthorized}, nil
	}

	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	configs, err := v.dir.TablePermissionConfigs(ctx, names)
	if err != nil {
		return Decision{}, err
	}

	var filtered []TableRef
	for _, ref := range refs {
		cfg, ok := configs[ref.Name]
		if ok && cfg.NeedDeptControl && cfg.DeptPathField != "" {
			filtered = append(filtered, ref)
		}
	}
	if len(filtered) == 0 {
		return Decision{Authorized: true, RewrittenSQL: sql}, nil
	}

	scopes, err := v.dir.ScopePaths(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	// No scope paths means organization-wide visibility, not zero
	// access. Flip this branch to deny-by-default if the policy ever
	// changes.
	if len(scopes) == 0 {
		return Decision{Authorized: true, RewrittenSQL: sql}, nil
	}

	rewritten := sql
	applied := make(map[string]bool)
	for _, ref := range filtered {
		key := strings.ToLower(ref.Name) + "\x00" + strings.ToLower(ref.Alias)
		if applied[key] {
			continue
		}
		applied[key] = true
		sub := buildAuthSubquery(ref, configs[ref.Name].DeptPathField, scopes)
		rewritten = replaceTableRef(rewritten, ref, sub)
	}
	return Decision{Authorized: true, RewrittenSQL: rewritten}, nil
}

// buildAuthSubquery wraps a table in a scope-filtered subquery. The REGEXP
// pattern matches a scope id as a whole path segment, (^|>)id(>|$), so
// id 12 never matches inside 120. An explicit alias is always emitted
// (falling back to the table name) so downstream column references stay
// valid.
func buildAuthSubquery(ref TableRef, field string, scopes []string) string {
	patterns := make([]string, len(scopes))
	for i, id := range scopes {
		patterns[i] = fmt.Sprintf("(^|>)%s(>|$)", id)
	}
	alias := ref.Alias
	if alias == "" {
		alias = ref.Name
	}
	return fmt.Sprintf("(SELECT * FROM %s WHERE %s REGEXP '%s') AS %s",
		ref.Name, field, strings.Join(patterns, "|"), alias)
}

// replaceTableRef substitutes the first textual occurrence of the table
// reference with repl. The match is case-insensitive: "table alias" with
// optional AS when the reference carries an alias, otherwise a bare
// word-bounded table name. Text-level substitution is a documented
// limitation: string literals containing table-name-like text can
// confuse it.
func replaceTableRef(sql string, ref TableRef, repl string) string {
	var pattern string
	if ref.Alias != "" {
		pattern = fmt.Sprintf(`(?i)%s\s+(?:AS\s+)?%s\b`,
			regexp.QuoteMeta(ref.Name), regexp.QuoteMeta(ref.Alias))
	} else {
		pattern = fmt.Sprintf(`(?i)\b%s\b`, regexp.QuoteMeta(ref.Name))
	}
	re := regexp.MustCompile(pattern)
	loc := re.FindStringIndex(sql)
	if loc == nil {
		return sql
	}
	return sql[:loc[0]] + repl + sql[loc[1]:]
}
