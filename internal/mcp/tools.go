package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	toolScenarioList = "scenario_list"
	toolScenarioRun  = "scenario_run"
	toolRunHistory   = "run_history"
	toolRunGet       = "run_get"
	toolRunStats     = "run_stats"
)

// ToolDefinitions returns the runner tools.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        toolScenarioList,
			Description: "List the scenarios this runner knows: built-ins plus any loaded from files. Each entry has the name, description, tags, setup fixture and step count. Optionally filter by tag.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tag": map[string]any{
						"type":        "string",
						"description": "Only list scenarios carrying this tag (case-insensitive)",
					},
				},
			},
		},
		{
			Name:        toolScenarioRun,
			Description: "Run scenarios against the configured target, each in a fresh browser session, and return the suite summary with one result per scenario (status, failed step index, error code, expected and observed state). Pass 'names' to run known scenarios, or 'yaml' with a scenario file body to run ad hoc scenarios. Failed steps are never retried.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"names": map[string]any{
						"type":        "array",
						"description": "Names of known scenarios to run",
						"items":       map[string]any{"type": "string"},
						"minItems":    1,
					},
					"yaml": map[string]any{
						"type":        "string",
						"description": "A scenario file: a single scenario or {fixtures, scenarios}",
					},
				},
			},
		},
		{
			Name:        toolRunHistory,
			Description: "List stored runs, newest first, without step records. Filter by scenario name and status (passed, failed, errored). Use run_get for the per-step detail of one run.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scenario": map[string]any{
						"type":        "string",
						"description": "Only runs of this scenario",
					},
					"status": map[string]any{
						"type":        "string",
						"description": "Only runs with this status",
						"enum":        []string{"passed", "failed", "errored"},
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of runs (default 50)",
						"minimum":     1,
						"maximum":     500,
					},
				},
			},
		},
		{
			Name:        toolRunGet,
			Description: "Read one stored run with its per-step records and artifact keys. Keys come from the run record and, when artifact storage is configured, from the bucket itself. Set 'page_html' to also return the page captured when the run failed.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"run_id": map[string]any{
						"type":        "string",
						"description": "The run id returned by scenario_run or run_history",
					},
					"page_html": map[string]any{
						"type":        "boolean",
						"description": "Include the captured page HTML (truncated to 256 KiB)",
					},
				},
				"required": []string{"run_id"},
			},
		},
		{
			Name:        toolRunStats,
			Description: "Count stored runs per target host and status. Runs without an absolute target are counted under an empty host.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}
