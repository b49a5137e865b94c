package sqlgate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lakshit-hivel/pr-copilot/internal/observability"
)

// identPattern matches safe SQL identifiers for schema-discovery queries.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Payload is a tool-shaped result: text content plus an error flag. Errors
// are data for the model to react to, never Go errors.
type Payload struct {
	Content string
	IsError bool
}

// QueryError is the structured error object returned to the model when a
// query is rejected or fails at the database.
type QueryError struct {
	Err    string `json:"error"`
	SQL    string `json:"sql,omitempty"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
	Hint   string `json:"hint,omitempty"`
}

// Executor runs gated queries and schema-discovery lookups against the
// analytics database. Each invocation checks out its own connection and
// returns it before the call completes.
type Executor struct {
	db      *sql.DB
	schema  string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExecutor creates an executor over the given database handle. Metrics
// may be nil.
func NewExecutor(db *sql.DB, schema string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	if schema == "" {
		schema = "insightly"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		db:      db,
		schema:  schema,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Schema returns the configured analytics schema name.
func (e *Executor) Schema() string {
	return e.schema
}

// RunSafe validates raw through the gateway and executes the rewritten
// query. Rejections and execution failures come back as structured error
// payloads so the model can self-correct.
func (e *Executor) RunSafe(ctx context.Context, raw string) Payload {
	verdict := ValidateAndRewrite(raw)
	if !verdict.Accepted {
		if e.metrics != nil {
			e.metrics.QueryRejections.WithLabelValues(verdict.Reason).Inc()
		}
		e.logger.Info("query rejected",
			"reason", verdict.Reason,
			"detail", verdict.Detail,
		)
		qerr := QueryError{Reason: verdict.Reason, Detail: verdict.Detail}
		switch verdict.Reason {
		case ReasonNotSelect:
			qerr.Err = "only SELECT statements are allowed"
		case ReasonDangerousKeyword:
			qerr.Err = fmt.Sprintf("query contains denied keyword %s", verdict.Detail)
		}
		return errorPayload(qerr)
	}

	rows, err := e.queryJSON(ctx, verdict.Query)
	if err != nil {
		return errorPayload(QueryError{
			Err:  err.Error(),
			SQL:  verdict.Query,
			Hint: hintFor(err.Error()),
		})
	}
	return Payload{Content: rows}
}

// ListTables returns all base tables in the analytics schema with their row
// counts.
func (e *Executor) ListTables(ctx context.Context) Payload {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		AND table_type = 'BASE TABLE'
		ORDER BY table_name`, e.schema)
	if err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return errorPayload(QueryError{Err: err.Error()})
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errorPayload(QueryError{Err: err.Error()})
	}
	rows.Close()

	type tableInfo struct {
		Name     string `json:"name"`
		RowCount int64  `json:"row_count"`
	}
	tables := make([]tableInfo, 0, len(names))
	for _, name := range names {
		if !identPattern.MatchString(name) {
			continue
		}
		var count int64
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", e.schema, name)
		if err := conn.QueryRowContext(ctx, countQuery).Scan(&count); err != nil {
			return errorPayload(QueryError{Err: err.Error(), SQL: countQuery})
		}
		tables = append(tables, tableInfo{Name: name, RowCount: count})
	}

	return marshalPayload(map[string]any{"tables": tables})
}

// TableSchema returns the column names, types, nullability and defaults of
// one table in the analytics schema.
func (e *Executor) TableSchema(ctx context.Context, table string) Payload {
	if !identPattern.MatchString(table) {
		return errorPayload(QueryError{
			Err:  fmt.Sprintf("invalid table name %q", table),
			Hint: "List the available tables with list_tables() and verify the table name.",
		})
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = $1
		AND table_name = $2
		ORDER BY ordinal_position`, e.schema, table)
	if err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}
	defer rows.Close()

	type columnInfo struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Nullable string `json:"nullable"`
		Default  string `json:"default,omitempty"`
	}
	var columns []columnInfo
	for rows.Next() {
		var col columnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default); err != nil {
			return errorPayload(QueryError{Err: err.Error()})
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}

	if len(columns) == 0 {
		return errorPayload(QueryError{
			Err:  fmt.Sprintf("relation %s.%s does not exist", e.schema, table),
			Hint: "List the available tables with list_tables() and verify the table name.",
		})
	}
	return marshalPayload(map[string]any{"table": table, "columns": columns})
}

// PRSummary returns every column of the pull_request row with the given id.
func (e *Executor) PRSummary(ctx context.Context, prID int64) Payload {
	query := fmt.Sprintf("SELECT * FROM %s.pull_request WHERE id = $1", e.schema)
	rows, err := e.queryJSON(ctx, query, prID)
	if err != nil {
		return errorPayload(QueryError{
			Err:  err.Error(),
			SQL:  query,
			Hint: hintFor(err.Error()),
		})
	}
	return Payload{Content: rows}
}

// CurrentDatabase reports the connected database and schema.
func (e *Executor) CurrentDatabase(ctx context.Context) Payload {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}
	defer conn.Close()

	var database, schema string
	if err := conn.QueryRowContext(ctx, "SELECT current_database(), current_schema()").Scan(&database, &schema); err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}
	return marshalPayload(map[string]any{"database": database, "schema": schema})
}

// queryJSON executes a read query on a dedicated connection and serializes
// the rows as indented JSON, with non-primitive values rendered as strings.
func (e *Executor) queryJSON(ctx context.Context, query string, args ...any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = normalizeValue(values[i])
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

// hintFor maps known Postgres error shapes to a corrective suggestion for
// the model.
func hintFor(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "column") && strings.Contains(lower, "does not exist"):
		return "Check the actual columns with get_table_schema() and rebuild the query."
	case strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist"):
		return "List the available tables with list_tables() and verify the table name."
	}
	return ""
}

func errorPayload(qerr QueryError) Payload {
	data, err := json.MarshalIndent(qerr, "", "  ")
	if err != nil {
		return Payload{Content: qerr.Err, IsError: true}
	}
	return Payload{Content: string(data), IsError: true}
}

func marshalPayload(v any) Payload {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorPayload(QueryError{Err: err.Error()})
	}
	return Payload{Content: string(data)}
}
