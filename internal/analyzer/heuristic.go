package analyzer

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/shaiso/prreview/internal/domain"
)

const (
	maxLineLength    = 120
	heuristicSummary = "Automatic scan completed. Consider running a full AI review for deeper insights."
)

var (
	debugCall = regexp.MustCompile(`\bprint\(|console\.log\(`)
	todoMark  = regexp.MustCompile(`TODO|FIXME`)
	hunkStart = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)
)

// Heuristic — анализатор без модели: построчная проверка добавленных строк патчей.
type Heuristic struct{}

// NewHeuristic создаёт эвристический анализатор.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Name возвращает имя провайдера.
func (h *Heuristic) Name() string { return ProviderHeuristic }

// Analyze проверяет добавленные строки: отладочный вывод, длинные строки, TODO/FIXME.
func (h *Heuristic) Analyze(ctx context.Context, content *domain.PRContent) (*domain.Report, error) {
	var issues []domain.Issue

	for _, f := range content.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		issues = append(issues, scanPatch(f.Filename, f.Patch)...)
	}

	if issues == nil {
		issues = []domain.Issue{}
	}

	return Parsed{Summary: heuristicSummary, Issues: issues}.Report(content, map[string]string{
		"provider": ProviderHeuristic,
	}), nil
}

// scanPatch проходит unified diff одного файла. Номер строки — строка в новой
// версии файла по заголовкам hunk'ов.
func scanPatch(path, patch string) []domain.Issue {
	var issues []domain.Issue
	line := 0

	for _, text := range strings.Split(patch, "\n") {
		if m := hunkStart.FindStringSubmatch(text); m != nil {
			line, _ = strconv.Atoi(m[1])
			continue
		}

		switch {
		case strings.HasPrefix(text, "+"):
			issues = append(issues, checkLine(path, line, text[1:])...)
			line++
		case strings.HasPrefix(text, "-"), strings.HasPrefix(text, `\`):
			// удалённые строки и "\ No newline at end of file" не сдвигают новую версию
		default:
			line++
		}
	}

	return issues
}

func checkLine(path string, line int, text string) []domain.Issue {
	var issues []domain.Issue

	newIssue := func(sev domain.Severity, cat domain.Category, msg, suggestion string) domain.Issue {
		issue := domain.Issue{FilePath: path, Severity: sev, Category: cat, Message: msg, Suggestion: suggestion}
		if line > 0 {
			n := line
			issue.Line = &n
		}
		return issue
	}

	if debugCall.MatchString(text) {
		issues = append(issues, newIssue(domain.SeverityWarning, domain.CategoryBestPractice,
			"Debug logging found in committed code",
			"Remove debug prints or guard them behind log levels"))
	}
	if len(text) > maxLineLength {
		issues = append(issues, newIssue(domain.SeverityInfo, domain.CategoryStyle,
			"Very long line added (>120 chars)",
			"Wrap long lines to improve readability"))
	}
	if todoMark.MatchString(text) {
		issues = append(issues, newIssue(domain.SeverityInfo, domain.CategoryBestPractice,
			"Leftover TODO/FIXME in changes",
			"Track in issue tracker or resolve before merge"))
	}

	return issues
}
