package analyzer

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/shaiso/prreview/internal/domain"
)

const (
	defaultSummary  = "Code review completed"
	unknownFilePath = "unknown"
	unparsedMessage = "Unparsed issue"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// Parsed — разобранный ответ модели.
type Parsed struct {
	Summary string
	Issues  []domain.Issue
}

type rawResponse struct {
	Summary string     `json:"summary"`
	Issues  []rawIssue `json:"issues"`
}

type rawIssue struct {
	FilePath   string          `json:"file_path"`
	Line       json.RawMessage `json:"line"`
	Severity   string          `json:"severity"`
	Category   string          `json:"category"`
	Message    string          `json:"message"`
	Suggestion *string         `json:"suggestion"`
}

// ParseResponse разбирает ответ модели.
//
// Модели часто оборачивают JSON в markdown или добавляют текст вокруг.
// Если JSON найти не удалось, весь ответ становится summary без issues.
func ParseResponse(content string) Parsed {
	content = strings.TrimSpace(content)

	var raw rawResponse
	if !decodeJSON(content, &raw) {
		if content == "" {
			content = defaultSummary
		}
		return Parsed{Summary: content}
	}

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		summary = defaultSummary
	}

	issues := make([]domain.Issue, 0, len(raw.Issues))
	for _, ri := range raw.Issues {
		issues = append(issues, ri.toIssue())
	}

	return Parsed{Summary: summary, Issues: issues}
}

// Report собирает отчёт для PR.
func (p Parsed) Report(content *domain.PRContent, modelInfo map[string]string) *domain.Report {
	return &domain.Report{
		RepoURL:   content.Ref().URL(),
		PRNumber:  content.Number,
		HeadSHA:   content.HeadSHA,
		Summary:   p.Summary,
		Issues:    p.Issues,
		ModelInfo: modelInfo,
	}
}

func decodeJSON(content string, out *rawResponse) bool {
	candidates := []string{content}
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		candidates = append([]string{m[1]}, candidates...)
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		candidates = append(candidates, content[start:end+1])
	}

	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return true
		}
	}
	return false
}

func (ri rawIssue) toIssue() domain.Issue {
	issue := domain.Issue{
		FilePath:   strings.TrimSpace(ri.FilePath),
		Line:       parseLine(ri.Line),
		Severity:   domain.NormalizeSeverity(ri.Severity),
		Category:   domain.NormalizeCategory(ri.Category),
		Message:    strings.TrimSpace(ri.Message),
	}
	if ri.Suggestion != nil {
		issue.Suggestion = strings.TrimSpace(*ri.Suggestion)
	}
	if issue.FilePath == "" {
		issue.FilePath = unknownFilePath
	}
	if issue.Message == "" {
		issue.Message = unparsedMessage
	}
	return issue
}

// parseLine принимает число, числовую строку или null.
func parseLine(raw json.RawMessage) *int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		n = int(f)
	}
	if n <= 0 {
		return nil
	}
	return &n
}
