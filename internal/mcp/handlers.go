package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/uirunner/internal/artifacts"
	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/history"
	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
	"github.com/kuitang/uirunner/internal/suite"
)

const (
	// maxRunScenarios caps one scenario_run call.
	maxRunScenarios = 32
	// maxPageHTMLBytes caps the captured page returned by run_get.
	maxPageHTMLBytes = 256 * 1024
)

// Handler implements MCP tool call handling.
type Handler struct {
	suite     *suite.Suite
	scenarios map[string]scenario.Scenario
	fixtures  map[string][]scenario.Step
	history   *history.Store
	artifacts *artifacts.Client
}

// NewHandler creates a handler. scenarios are the named, already-resolved
// scenarios callers may run; history may be nil.
func NewHandler(s *suite.Suite, scenarios []scenario.Scenario, fixtures map[string][]scenario.Step, store *history.Store) *Handler {
	byName := make(map[string]scenario.Scenario, len(scenarios))
	for _, sc := range scenarios {
		byName[sc.Name] = sc
	}
	return &Handler{
		suite:     s,
		scenarios: byName,
		fixtures:  fixtures,
		history:   store,
	}
}

// WithArtifacts lets run_get list and read the artifacts stored for a run.
func (h *Handler) WithArtifacts(client *artifacts.Client) *Handler {
	h.artifacts = client
	return h
}

func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		return result, nil, err
	}
}

// HandleToolCall routes tool calls to their handlers.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case toolScenarioList:
		return h.handleScenarioList(arguments)
	case toolScenarioRun:
		return h.handleScenarioRun(ctx, arguments)
	case toolRunHistory:
		return h.handleRunHistory(ctx, arguments)
	case toolRunGet:
		return h.handleRunGet(ctx, arguments)
	case toolRunStats:
		return h.handleRunStats(ctx, arguments)
	default:
		return newToolResultError(errs.New(errs.InvalidArgument, fmt.Sprintf("unknown tool: %s", name))), nil
	}
}

// toolErrorPayload is the JSON body of an error result.
type toolErrorPayload struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func newToolResultError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(toolErrorPayload{
				Code:    errs.CodeOf(err),
				Message: errs.MessageOf(err),
			})},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}

// decodeToolArgs decodes tool arguments into out, rejecting unknown fields.
func decodeToolArgs(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "arguments are not valid JSON", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid arguments: %v", err), err)
	}
	return nil
}

type scenarioListItem struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Steps       int      `json:"steps"`
	Expect      []string `json:"expect"`
}

func (h *Handler) handleScenarioList(args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		Tag string `json:"tag"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(err), nil
	}

	names := make([]string, 0, len(h.scenarios))
	for name := range h.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]scenarioListItem, 0, len(names))
	for _, name := range names {
		sc := h.scenarios[name]
		if in.Tag != "" && !sc.HasTag(in.Tag) {
			continue
		}
		item := scenarioListItem{
			Name:        sc.Name,
			Description: sc.Description,
			Tags:        sc.Tags,
			Steps:       len(sc.Steps),
		}
		for _, cond := range sc.Expect {
			item.Expect = append(item.Expect, cond.Describe())
		}
		items = append(items, item)
	}
	response := struct {
		Scenarios  []scenarioListItem `json:"scenarios"`
		TotalCount int                `json:"total_count"`
	}{
		Scenarios:  items,
		TotalCount: len(items),
	}
	return newToolResultText(marshalToolJSON(response)), nil
}

func (h *Handler) handleScenarioRun(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		Names []string `json:"names"`
		YAML  string   `json:"yaml"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(err), nil
	}
	if (len(in.Names) == 0) == (in.YAML == "") {
		return newToolResultError(errs.New(errs.InvalidArgument, "pass exactly one of names or yaml")), nil
	}

	var scenarios []scenario.Scenario
	if in.YAML != "" {
		parsed, err := scenario.Parse([]byte(in.YAML), h.fixtures)
		if err != nil {
			return newToolResultError(errs.Wrap(errs.InvalidArgument, err.Error(), err)), nil
		}
		scenarios = parsed
	} else {
		for _, name := range in.Names {
			sc, ok := h.scenarios[name]
			if !ok {
				return newToolResultError(errs.New(errs.InvalidArgument, fmt.Sprintf("unknown scenario %q", name))), nil
			}
			scenarios = append(scenarios, sc)
		}
	}
	if len(scenarios) > maxRunScenarios {
		return newToolResultError(errs.New(errs.InvalidArgument,
			fmt.Sprintf("%d scenarios requested, at most %d per call", len(scenarios), maxRunScenarios))), nil
	}

	sum := h.suite.Run(ctx, scenarios)
	response := struct {
		suite.Summary
		ExitCode int `json:"exit_code"`
	}{
		Summary:  sum,
		ExitCode: sum.ExitCode(),
	}
	return newToolResultText(marshalToolJSON(response)), nil
}

func (h *Handler) requireHistory() error {
	if h.history == nil {
		return errs.New(errs.Environment, "run history is not configured on this server")
	}
	return nil
}

func (h *Handler) handleRunHistory(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if err := h.requireHistory(); err != nil {
		return newToolResultError(err), nil
	}
	var in struct {
		Scenario string `json:"scenario"`
		Status   string `json:"status"`
		Limit    int    `json:"limit"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(err), nil
	}
	switch runner.Status(in.Status) {
	case "", runner.StatusPassed, runner.StatusFailed, runner.StatusErrored:
	default:
		return newToolResultError(errs.New(errs.InvalidArgument, fmt.Sprintf("unknown status %q", in.Status))), nil
	}
	if in.Limit < 0 || in.Limit > 500 {
		return newToolResultError(errs.New(errs.InvalidArgument, "limit must be between 1 and 500")), nil
	}

	runs, err := h.history.List(ctx, history.Filter{
		Scenario: in.Scenario,
		Status:   runner.Status(in.Status),
		Limit:    in.Limit,
	})
	if err != nil {
		return newToolResultError(errs.Wrap(errs.Internal, "failed to list runs", err)), nil
	}
	if runs == nil {
		runs = []history.Run{}
	}
	response := struct {
		Runs       []history.Run `json:"runs"`
		TotalCount int           `json:"total_count"`
	}{
		Runs:       runs,
		TotalCount: len(runs),
	}
	return newToolResultText(marshalToolJSON(response)), nil
}

// runGetResponse is a stored run plus, on request, its captured page.
type runGetResponse struct {
	history.Run
	PageHTML string `json:"page_html,omitempty"`
}

func (h *Handler) handleRunGet(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if err := h.requireHistory(); err != nil {
		return newToolResultError(err), nil
	}
	var in struct {
		RunID    string `json:"run_id"`
		PageHTML bool   `json:"page_html"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultError(err), nil
	}
	if in.RunID == "" {
		return newToolResultError(errs.New(errs.InvalidArgument, "run_id is required")), nil
	}
	if in.PageHTML && h.artifacts == nil {
		return newToolResultError(errs.New(errs.Environment, "artifact storage is not configured")), nil
	}
	run, err := h.history.Get(ctx, in.RunID)
	if errors.Is(err, history.ErrNotFound) {
		return newToolResultError(errs.New(errs.InvalidArgument, fmt.Sprintf("run %q not found", in.RunID))), nil
	}
	if err != nil {
		return newToolResultError(errs.Wrap(errs.Internal, "failed to read run", err)), nil
	}

	resp := runGetResponse{Run: run}
	if h.artifacts != nil {
		log := obs.From(ctx).With("pkg", "mcp")
		// Keys from a partially failed upload never reach the run record.
		keys, err := h.artifacts.ListRun(ctx, in.RunID)
		if err != nil {
			log.Warn("artifact_list_failed", "run_id", in.RunID, "error", err)
		} else {
			resp.Artifacts = mergeKeys(resp.Artifacts, keys)
		}
		if in.PageHTML {
			page, err := h.artifacts.GetObject(ctx, artifacts.RunPrefix(in.RunID)+artifacts.PageName)
			switch {
			case errors.Is(err, artifacts.ErrObjectNotFound):
				return newToolResultError(errs.New(errs.InvalidArgument, fmt.Sprintf("run %q has no captured page", in.RunID))), nil
			case err != nil:
				return newToolResultError(errs.Wrap(errs.Environment, "failed to read captured page", err)), nil
			}
			resp.PageHTML = truncateUTF8(page, maxPageHTMLBytes)
		}
	}
	return newToolResultText(marshalToolJSON(resp)), nil
}

// mergeKeys returns the sorted union of recorded and listed keys.
func mergeKeys(recorded, listed []string) []string {
	seen := make(map[string]bool, len(recorded)+len(listed))
	out := make([]string, 0, len(recorded)+len(listed))
	for _, k := range append(append([]string{}, recorded...), listed...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func truncateUTF8(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	for limit > 0 && !utf8.RuneStart(b[limit]) {
		limit--
	}
	return string(b[:limit])
}

func (h *Handler) handleRunStats(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if err := h.requireHistory(); err != nil {
		return newToolResultError(err), nil
	}
	if err := decodeToolArgs(args, &struct{}{}); err != nil {
		return newToolResultError(err), nil
	}
	stats, err := h.history.StatsByHost(ctx)
	if err != nil {
		return newToolResultError(errs.Wrap(errs.Internal, "failed to aggregate runs", err)), nil
	}
	if stats == nil {
		stats = []history.HostStats{}
	}
	return newToolResultText(marshalToolJSON(map[string]any{"hosts": stats})), nil
}
