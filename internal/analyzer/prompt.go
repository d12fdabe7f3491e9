package analyzer

import (
	"fmt"
	"strings"

	"github.com/shaiso/prreview/internal/domain"
)

// maxPromptPatch — предел суммарного размера патчей в prompt'е.
const maxPromptPatch = 100_000

const systemPrompt = `You are an expert code reviewer. Provide detailed, actionable feedback.
Return a strict JSON object with keys: summary (string), issues (array of issue objects).
Each issue object must have: file_path (string), line (number or null), severity (info|warning|error),
category (style|bug|performance|best_practice), message (string), suggestion (string or null).
Do not include any extra commentary, only JSON.`

// BuildPrompt собирает пользовательское сообщение: метаданные PR и патчи файлов.
func BuildPrompt(content *domain.PRContent) string {
	var b strings.Builder

	additions, deletions := content.Totals()

	b.WriteString("Review this pull request. Report bugs, style, performance and best practice issues, ")
	b.WriteString("and give an overall assessment in the summary.\n\n")
	fmt.Fprintf(&b, "Repository: %s/%s\n", content.Owner, content.Repo)
	fmt.Fprintf(&b, "PR #%d: %s\n", content.Number, content.Title)
	fmt.Fprintf(&b, "Files changed: %d\n", len(content.Files))
	fmt.Fprintf(&b, "Total changes: +%d -%d\n", additions, deletions)

	if body := strings.TrimSpace(content.Body); body != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", body)
	}

	b.WriteString("\nFiles and changes:\n")

	budget := maxPromptPatch
	for _, f := range content.Files {
		fmt.Fprintf(&b, "\nFile: %s\nStatus: %s\nChanges: +%d -%d\n", f.Filename, f.Status, f.Additions, f.Deletions)

		switch {
		case f.Patch == "":
		case len(f.Patch) > budget:
			b.WriteString("Diff: (omitted, too large)\n")
			budget = 0
		default:
			fmt.Fprintf(&b, "Diff:\n%s\n", f.Patch)
			budget -= len(f.Patch)
		}
		b.WriteString(strings.Repeat("-", 50))
		b.WriteString("\n")
	}

	return b.String()
}
