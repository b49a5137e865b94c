// Package insight exposes the PR analytics database as agent tools: gated
// SQL execution plus schema discovery. The same tools back the standalone
// tool server and can be registered directly in-process.
package insight

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
	"github.com/lakshit-hivel/pr-copilot/internal/sqlgate"
)

// All returns every analytics tool bound to the executor.
func All(exec *sqlgate.Executor) []agent.Tool {
	return []agent.Tool{
		&SafeSQLTool{exec: exec},
		&ListTablesTool{exec: exec},
		&TableSchemaTool{exec: exec},
		&PRSummaryTool{exec: exec},
		&CurrentDatabaseTool{exec: exec},
	}
}

func payloadResult(p sqlgate.Payload) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: p.Content, IsError: p.IsError}, nil
}

// SafeSQLTool runs a SELECT query through the safety gateway.
type SafeSQLTool struct {
	exec *sqlgate.Executor
}

func (t *SafeSQLTool) Name() string { return "safe_sql" }

func (t *SafeSQLTool) Description() string {
	return "Execute a read-only SQL SELECT query against the analytics database. " +
		"Non-SELECT statements are rejected and a LIMIT is applied automatically."
}

func (t *SafeSQLTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "SQL SELECT statement to execute"}
		},
		"required": ["query"]
	}`)
}

func (t *SafeSQLTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return payloadResult(t.exec.RunSafe(ctx, input.Query))
}

// ListTablesTool lists the analytics schema's tables with row counts.
type ListTablesTool struct {
	exec *sqlgate.Executor
}

func (t *ListTablesTool) Name() string { return "list_tables" }

func (t *ListTablesTool) Description() string {
	return "List all tables in the analytics schema with their row counts."
}

func (t *ListTablesTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListTablesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return payloadResult(t.exec.ListTables(ctx))
}

// TableSchemaTool describes one table's columns.
type TableSchemaTool struct {
	exec *sqlgate.Executor
}

func (t *TableSchemaTool) Name() string { return "get_table_schema" }

func (t *TableSchemaTool) Description() string {
	return "Get the column names, types and nullability of a table in the analytics schema. " +
		"Always call this before writing a query against a table."
}

func (t *TableSchemaTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"table_name": {"type": "string", "description": "Table name without schema prefix"}
		},
		"required": ["table_name"]
	}`)
}

func (t *TableSchemaTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TableName string `json:"table_name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return payloadResult(t.exec.TableSchema(ctx, input.TableName))
}

// PRSummaryTool returns everything stored for a single pull request.
type PRSummaryTool struct {
	exec *sqlgate.Executor
}

func (t *PRSummaryTool) Name() string { return "get_pr_summary" }

func (t *PRSummaryTool) Description() string {
	return "Return every kind of information available in the database for the given PR id."
}

func (t *PRSummaryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pr_id": {"type": "integer", "description": "Pull request id"}
		},
		"required": ["pr_id"]
	}`)
}

func (t *PRSummaryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		PRID int64 `json:"pr_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return payloadResult(t.exec.PRSummary(ctx, input.PRID))
}

// CurrentDatabaseTool reports the connected database and schema.
type CurrentDatabaseTool struct {
	exec *sqlgate.Executor
}

func (t *CurrentDatabaseTool) Name() string { return "get_current_database" }

func (t *CurrentDatabaseTool) Description() string {
	return "Get the current database and schema."
}

func (t *CurrentDatabaseTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *CurrentDatabaseTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return payloadResult(t.exec.CurrentDatabase(ctx))
}
