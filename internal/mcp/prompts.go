package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const scenarioAuthoringPromptName = "scenario_authoring"

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler())
	}
}

// PromptDefinitions returns the runner prompts.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        scenarioAuthoringPromptName,
			Title:       "Writing UI scenarios",
			Description: "How to write a scenario file and run it with scenario_run.",
		},
	}
}

func promptHandler() mcp.PromptHandler {
	return func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: "How to write a scenario file and run it with scenario_run.",
			Messages: []*mcp.PromptMessage{
				{
					Role:    mcp.Role("user"),
					Content: &mcp.TextContent{Text: scenarioAuthoringText},
				},
			},
		}, nil
	}
}

const scenarioAuthoringText = `A scenario is an ordered list of steps followed by final expectations.

Steps: navigate (value: URL, mode: commit | domcontentloaded | load), click, fill (value: text),
scroll (target, or value: pixels), wait (target to become visible, or pause: duration) and
assert_visible. Every step except navigate and a bare wait needs a target locator.

Locators name exactly one of: role (+ name, matched exactly), test_id, text, css, xpath.
Use nth to pick among several matches; the first match is used by default. Prefer role and
test_id over xpath.

expect lists conditions that must all become visible: text, or a target locator, each with
an optional timeout (default 30s).

Set uses: onboarding to prepend the shared onboarding steps. Example:

name: guest-entry
uses: onboarding
steps:
  - action: click
    target: {role: button, name: Sign in to Start}
  - action: click
    target: {test_id: continue-as-guest}
expect:
  - text: Start Your First Practice

Call scenario_list to see what exists, then scenario_run with names or yaml.`
