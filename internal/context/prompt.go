package context

import (
	"strings"
	"text/template"
	"time"

	"github.com/user/keepsake/internal/types"
)

// TimeLayout renders the current time in prompts and turn input.
const TimeLayout = "Monday, January 02, 2006 at 03:04 PM MST"

// FormatTime renders t with TimeLayout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ToolLine is one entry of the tool manifest.
type ToolLine struct {
	Name    string
	Summary string
}

// BlockView is a core memory block as rendered into the preamble.
type BlockView struct {
	Label   string
	Content string
}

// PromptData feeds the preamble template.
type PromptData struct {
	Time               string
	Tools              []ToolLine
	SystemInstructions string
	Blocks             []BlockView
	Summaries          []*types.DailySummary
}

// DefaultPrompt is the preamble template. Sections appear in a fixed order:
// time, tools, system instructions, core memory, daily summaries.
const DefaultPrompt = `# Current Time

It is currently: {{.Time}}

---

## Your Tools

This is your complete, current tool set.
{{range .Tools}}
- **{{.Name}}**: {{.Summary}}
{{- end}}

---
{{- if .SystemInstructions}}

# System Instructions (read only, you cannot edit these)

{{.SystemInstructions}}

---
{{- end}}

# Core Memory (editable)

These blocks are always in context. Edit them with the core_memory tools when you learn something that matters.
{{range .Blocks}}
## {{.Label}}
{{.Content}}
{{end}}
Prefer core_memory_append: it adds without touching what is already there. Use core_memory_update only to correct something outright. If an edit goes wrong, core_memory_rollback restores the previous version, one step per call.
{{- if .Summaries}}

---

# Recent Days

Your own summaries of recent days, oldest first.
{{range .Summaries}}
**{{.Date}}**: {{.Content}}
{{end}}
Use daily_summary_write at the end of each day to record what happened.
{{- end}}
`

var preambleTmpl = template.Must(template.New("preamble").Parse(DefaultPrompt))

// renderPreamble builds the system message. system_instructions is omitted
// when empty; editable blocks render "(empty)" instead.
func renderPreamble(now time.Time, tools []ToolLine, blocks []*types.CoreMemoryBlock, summaries []*types.DailySummary) (string, error) {
	data := PromptData{
		Time:      FormatTime(now),
		Tools:     tools,
		Summaries: summaries,
	}
	for _, b := range blocks {
		content := strings.TrimSpace(b.Content)
		if b.Type == types.BlockSystemInstructions {
			data.SystemInstructions = content
			continue
		}
		if content == "" {
			content = "(empty)"
		}
		data.Blocks = append(data.Blocks, BlockView{Label: b.Type.Label(), Content: content})
	}

	var sb strings.Builder
	if err := preambleTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Summarize reduces a tool description to its first sentence.
func Summarize(description string) string {
	line := ""
	for _, l := range strings.Split(strings.TrimSpace(description), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if i := strings.Index(line, "."); i >= 0 {
		line = line[:i+1]
	}
	return line
}
