package insight

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lakshit-hivel/pr-copilot/internal/sqlgate"
)

func newTestTools(t *testing.T) (sqlmock.Sqlmock, *sqlgate.Executor) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, sqlgate.NewExecutor(db, "insightly", 5*time.Second, nil, nil)
}

func TestAllRegistersExpectedNames(t *testing.T) {
	_, exec := newTestTools(t)
	tools := All(exec)

	want := map[string]bool{
		"safe_sql":             false,
		"list_tables":          false,
		"get_table_schema":     false,
		"get_pr_summary":       false,
		"get_current_database": false,
	}
	for _, tool := range tools {
		if _, ok := want[tool.Name()]; !ok {
			t.Errorf("unexpected tool %q", tool.Name())
			continue
		}
		want[tool.Name()] = true
		if tool.Description() == "" {
			t.Errorf("tool %q has no description", tool.Name())
		}
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Errorf("tool %q schema not valid JSON: %v", tool.Name(), err)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing tool %q", name)
		}
	}
}

func TestSafeSQLToolRejectsWrites(t *testing.T) {
	_, exec := newTestTools(t)
	tool := &SafeSQLTool{exec: exec}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"UPDATE insightly.pull_request SET state = 'MERGED'"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result for write statement")
	}
	if !strings.Contains(result.Content, "not_select") {
		t.Errorf("result content = %q", result.Content)
	}
}

func TestSafeSQLToolRunsQuery(t *testing.T) {
	mock, exec := newTestTools(t)
	tool := &SafeSQLTool{exec: exec}

	mock.ExpectQuery("SELECT state FROM insightly.pull_request").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("OPEN"))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"SELECT state FROM insightly.pull_request LIMIT 1"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "OPEN") {
		t.Errorf("result content = %q", result.Content)
	}
}

func TestTableSchemaToolDecodesArguments(t *testing.T) {
	mock, exec := newTestTools(t)
	tool := &TableSchemaTool{exec: exec}

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("insightly", "sprint").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"}).
			AddRow("id", "bigint", "NO", ""))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"table_name":"sprint"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
}

func TestPRSummaryToolPassesID(t *testing.T) {
	mock, exec := newTestTools(t)
	tool := &PRSummaryTool{exec: exec}

	mock.ExpectQuery("FROM insightly.pull_request WHERE id").
		WithArgs(int64(1501)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1501)))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pr_id":1501}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSafeSQLToolMalformedArguments(t *testing.T) {
	_, exec := newTestTools(t)
	tool := &SafeSQLTool{exec: exec}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":`)); err == nil {
		t.Fatalf("expected decode error for malformed arguments")
	}
}
