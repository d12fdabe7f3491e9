package domain

import "strings"

// Severity — уровень серьёзности замечания.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Category — категория замечания.
type Category string

const (
	CategoryStyle        Category = "style"
	CategoryBug          Category = "bug"
	CategoryPerformance  Category = "performance"
	CategoryBestPractice Category = "best_practice"
)

// NormalizeSeverity приводит произвольную строку к известному Severity.
// Неизвестные значения становятся info.
func NormalizeSeverity(s string) Severity {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityInfo, SeverityWarning, SeverityError:
		return v
	case "critical", "high":
		return SeverityError
	case "medium", "warn":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// NormalizeCategory приводит произвольную строку к известной Category.
// Неизвестные значения становятся best_practice.
func NormalizeCategory(s string) Category {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	v = strings.ReplaceAll(v, " ", "_")
	switch c := Category(v); c {
	case CategoryStyle, CategoryBug, CategoryPerformance, CategoryBestPractice:
		return c
	default:
		return CategoryBestPractice
	}
}

// Issue — одно замечание ревью.
type Issue struct {
	FilePath   string   `json:"file_path"`
	Line       *int     `json:"line,omitempty"`
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Report — результат анализа PR.
//
// Для ядра оркестрации Report непрозрачен: он кэшируется и отдаётся клиенту как есть.
type Report struct {
	RepoURL   string            `json:"repo_url"`
	PRNumber  int               `json:"pr_number"`
	HeadSHA   string            `json:"head_sha,omitempty"`
	Summary   string            `json:"summary"`
	Issues    []Issue           `json:"issues"`
	ModelInfo map[string]string `json:"model_info,omitempty"`
}

// CountBySeverity возвращает количество замечаний указанного уровня.
func (r *Report) CountBySeverity(s Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

// Clone возвращает глубокую копию отчёта.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	if r.Issues != nil {
		c.Issues = make([]Issue, len(r.Issues))
		for i, issue := range r.Issues {
			if issue.Line != nil {
				line := *issue.Line
				issue.Line = &line
			}
			c.Issues[i] = issue
		}
	}
	if r.ModelInfo != nil {
		c.ModelInfo = make(map[string]string, len(r.ModelInfo))
		for k, v := range r.ModelInfo {
			c.ModelInfo[k] = v
		}
	}
	return &c
}
