package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Greenlight MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolEvaluateOperation = mcp.NewTool("evaluate_operation",
	mcp.WithDescription(
		"Ask Greenlight whether an operation can proceed without human approval. "+
			"Returns a decision with a verdict (auto-accepted or denied), risk level, "+
			"confidence score, and reasoning. Always call this before performing an "+
			"operation, and record_outcome afterwards so the engine can learn."),
	mcp.WithString("request_type",
		mcp.Required(),
		mcp.Description("Operation type: file_read, file_write, file_delete, file_move, dir_list, service_start, service_stop, service_restart, health_check, log_analysis, report_generate, context_save, config_update, or dependency_install")),
	mcp.WithObject("attributes",
		mcp.Description("Operation attributes as string key-value pairs. For file operations include \"path\"; for service operations include \"service\"; for dependency installs include \"package\".")),
)

var ToolRecordOutcome = mcp.NewTool("record_outcome",
	mcp.WithDescription(
		"Report how an operation actually went after Greenlight approved or denied it. "+
			"Outcomes feed the confidence model, so honest reporting directly improves "+
			"future auto-acceptance. Each decision accepts exactly one outcome."),
	mcp.WithString("decision_id",
		mcp.Required(),
		mcp.Description("The decision ID from a previous evaluate_operation result (e.g. 'dec_...')")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("How the operation ended"),
		mcp.Enum("success", "failure", "partial", "rolled_back", "manual_override")),
	mcp.WithString("error_detail",
		mcp.Description("What went wrong, for failure or rolled_back outcomes")),
)

var ToolListDecisions = mcp.NewTool("list_decisions",
	mcp.WithDescription(
		"Browse your agent's recent Greenlight decisions, newest first. "+
			"Useful for finding a decision ID you forgot to record an outcome for."),
	mcp.WithString("request_type",
		mcp.Description("Filter by operation type (e.g. 'file_write')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of decisions to return (default 20)")),
)

var ToolGetReport = mcp.NewTool("get_report",
	mcp.WithDescription(
		"Get an acceptance report for a trailing window: how many operations were "+
			"evaluated, how many were auto-accepted, success and failure counts, and "+
			"a per-type breakdown."),
	mcp.WithNumber("window_hours",
		mcp.Description("Trailing window in hours (default 24)")),
)

var ToolEmergencyStatus = mcp.NewTool("emergency_status",
	mcp.WithDescription(
		"Check whether the Greenlight emergency stop is active. While tripped, every "+
			"evaluation is denied regardless of history. If it is active, stop issuing "+
			"operations and wait for an operator to reset it."),
)
