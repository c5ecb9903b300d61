// Package report renders suite results as Markdown, and as sanitized HTML for
// email and browser viewing.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/suite"
)

// Options tune the rendered report.
type Options struct {
	Title  string
	Target string
	// ArtifactURL turns an artifact key into a link. Nil lists bare keys.
	ArtifactURL func(key string) string
}

func (o Options) title() string {
	if o.Title == "" {
		return "UI scenario report"
	}
	return o.Title
}

// FailureLine is the one-line diagnostic printed for a run that did not pass.
// It names the scenario, the step index, the expected state and the observed one.
func FailureLine(res runner.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", strings.ToUpper(string(res.Status)), res.Scenario)
	if res.FailedStep >= 0 {
		fmt.Fprintf(&b, " step %d", res.FailedStep)
	} else if res.Phase != "" {
		fmt.Fprintf(&b, " during %s", res.Phase)
	}
	if res.Code != "" {
		fmt.Fprintf(&b, " [%s]", res.Code)
	}
	if res.Message != "" {
		fmt.Fprintf(&b, ": %s", oneLine(res.Message))
	}
	if res.Expected != "" {
		fmt.Fprintf(&b, "; expected %s", oneLine(res.Expected))
	}
	if res.Observed != "" {
		fmt.Fprintf(&b, "; observed %s", oneLine(res.Observed))
	}
	return b.String()
}

// Markdown renders the summary table followed by one section per run that did not pass.
func Markdown(sum suite.Summary, opts Options) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", escapeText(opts.title()))
	if opts.Target != "" {
		fmt.Fprintf(&b, "Target: `%s`\n\n", strings.ReplaceAll(opts.Target, "`", ""))
	}
	fmt.Fprintf(&b, "**%d passed, %d failed, %d errored** in %s (suite `%s`)\n\n",
		sum.Passed, sum.Failed, sum.Errored, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond), sum.SuiteID)

	b.WriteString("| Scenario | Status | Steps | Duration | Run |\n")
	b.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, res := range sum.Results {
		fmt.Fprintf(&b, "| %s | %s | %d | %s | `%s` |\n",
			escapeCell(res.Scenario), statusMark(res.Status), res.StepsExecuted,
			res.Duration().Round(time.Millisecond), res.RunID)
	}

	for _, res := range sum.Results {
		if res.Passed() && len(res.Degraded) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", escapeText(res.Scenario))
		if !res.Passed() {
			fmt.Fprintf(&b, "- Status: %s", res.Status)
			if res.Code != "" {
				fmt.Fprintf(&b, " (`%s`)", res.Code)
			}
			b.WriteString("\n")
			if res.FailedStep >= 0 {
				fmt.Fprintf(&b, "- Failed step: %d\n", res.FailedStep)
			}
			if res.Message != "" {
				fmt.Fprintf(&b, "- Error: %s\n", escapeText(oneLine(res.Message)))
			}
			if res.Expected != "" {
				fmt.Fprintf(&b, "- Expected: %s\n", escapeText(oneLine(res.Expected)))
			}
			if res.Observed != "" {
				fmt.Fprintf(&b, "- Observed: %s\n", escapeText(oneLine(res.Observed)))
			}
		}
		if len(res.Degraded) > 0 {
			fmt.Fprintf(&b, "- Load wait timed out for: %s\n", escapeText(strings.Join(res.Degraded, ", ")))
		}
		for _, key := range res.Artifacts {
			if opts.ArtifactURL != nil {
				fmt.Fprintf(&b, "- Artifact: [%s](%s)\n", escapeText(filepath.Base(key)), opts.ArtifactURL(key))
			} else {
				fmt.Fprintf(&b, "- Artifact: `%s`\n", key)
			}
		}
		if len(res.Steps) > 0 {
			b.WriteString("\n| # | Step | Duration | Error |\n| --- | --- | --- | --- |\n")
			for _, st := range res.Steps {
				fmt.Fprintf(&b, "| %d | %s | %s | %s |\n",
					st.Index, escapeCell(st.Label), st.Duration.Round(time.Millisecond), escapeCell(oneLine(st.Error)))
			}
		}
	}
	return b.Bytes()
}

var pageTemplate = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.25rem 0.5rem; text-align: left; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML renders the Markdown report into a standalone sanitized page.
func HTML(sum suite.Summary, opts Options) ([]byte, error) {
	var b bytes.Buffer
	err := pageTemplate.Execute(&b, struct {
		Title string
		Body  template.HTML
	}{
		Title: opts.title(),
		Body:  template.HTML(renderMarkdown(Markdown(sum, opts))),
	})
	if err != nil {
		return nil, fmt.Errorf("render report page: %w", err)
	}
	return b.Bytes(), nil
}

// WriteFile writes the report to path, as HTML when the extension is .html or .htm.
func WriteFile(path string, sum suite.Summary, opts Options) error {
	var body []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		page, err := HTML(sum, opts)
		if err != nil {
			return err
		}
		body = page
	default:
		body = Markdown(sum, opts)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, body, 0640); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// renderMarkdown converts markdown to sanitized HTML.
func renderMarkdown(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	})
	htmlContent := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("table", "thead", "tbody", "tr", "th", "td", "code")
	return policy.SanitizeBytes(htmlContent)
}

func statusMark(s runner.Status) string {
	switch s {
	case runner.StatusPassed:
		return "passed"
	case runner.StatusFailed:
		return "**failed**"
	default:
		return "**errored**"
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"<", "&lt;", ">", "&gt;", "#", `\#`, "|", `\|`,
)

func escapeText(s string) string { return markdownEscaper.Replace(s) }

func escapeCell(s string) string { return escapeText(oneLine(s)) }
