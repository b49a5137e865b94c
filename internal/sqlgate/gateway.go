// Package sqlgate validates and rewrites SQL before it reaches the
// analytics database. Every model-authored query passes through the gateway:
// read-only enforcement, a keyword denylist, and automatic row limiting.
package sqlgate

import "strings"

// Rejection reasons.
const (
	ReasonNotSelect        = "not_select"
	ReasonDangerousKeyword = "dangerous_keyword"
)

// DefaultRowLimit is appended to queries that carry no LIMIT clause.
const DefaultRowLimit = 100

// DeniedKeywords are rejected anywhere in a query, as substrings of the
// uppercased text. Substring matching is intentionally conservative: an
// identifier like created_at trips the CREATE check. That over-rejection is
// the accepted trade-off, not a bug.
var DeniedKeywords = []string{
	"DROP",
	"DELETE",
	"INSERT",
	"UPDATE",
	"ALTER",
	"CREATE",
	"TRUNCATE",
}

// Result is the gateway's verdict on a raw query.
type Result struct {
	// Accepted is true when the query may be executed.
	Accepted bool `json:"accepted"`

	// Query is the rewritten text to execute. Only set when accepted.
	Query string `json:"query,omitempty"`

	// LimitAdded is true when the gateway appended a LIMIT clause.
	LimitAdded bool `json:"limit_added,omitempty"`

	// Reason identifies why the query was rejected.
	Reason string `json:"reason,omitempty"`

	// Detail carries the offending keyword for denylist rejections.
	Detail string `json:"detail,omitempty"`
}

// ValidateAndRewrite applies the gateway checks in order, short-circuiting
// on the first failure:
//
//  1. the statement must begin with SELECT (case-insensitive)
//  2. no denied keyword may appear anywhere in the text
//  3. a LIMIT clause is appended when absent
//
// Keyword inspection works on an uppercased copy; the executed query keeps
// its original casing and content.
func ValidateAndRewrite(raw string) Result {
	query := strings.TrimSpace(raw)
	upper := strings.ToUpper(query)

	if !strings.HasPrefix(upper, "SELECT") {
		return Result{Reason: ReasonNotSelect}
	}

	for _, keyword := range DeniedKeywords {
		if strings.Contains(upper, keyword) {
			return Result{Reason: ReasonDangerousKeyword, Detail: keyword}
		}
	}

	if !strings.Contains(upper, "LIMIT") {
		trimmed := strings.TrimRight(query, "; \t\n")
		return Result{
			Accepted:   true,
			Query:      trimmed + " LIMIT 100",
			LimitAdded: true,
		}
	}

	return Result{Accepted: true, Query: query}
}
