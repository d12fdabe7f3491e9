package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var repoPartRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// RepoRef — ссылка на репозиторий GitHub.
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ParseRepoRef разбирает идентификатор репозитория.
//
// Поддерживаемые формы:
//   - https://github.com/owner/repo
//   - https://github.com/owner/repo.git
//   - github.com/owner/repo
//   - owner/repo
func ParseRepoRef(s string) (RepoRef, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return RepoRef{}, fmt.Errorf("%w: empty repository identifier", ErrInvalidInput)
	}

	path := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return RepoRef{}, fmt.Errorf("%w: repository url: %v", ErrInvalidInput, err)
		}
		if host := strings.ToLower(u.Host); host != "github.com" && host != "www.github.com" {
			return RepoRef{}, fmt.Errorf("%w: not a github.com repository: %q", ErrInvalidInput, s)
		}
		path = u.Path
	} else if strings.HasPrefix(strings.ToLower(raw), "github.com/") {
		path = raw[len("github.com/"):]
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return RepoRef{}, fmt.Errorf("%w: expected https://github.com/<owner>/<repo>, got %q", ErrInvalidInput, s)
	}

	owner := parts[0]
	name := strings.TrimSuffix(parts[1], ".git")
	if !repoPartRe.MatchString(owner) || !repoPartRe.MatchString(name) {
		return RepoRef{}, fmt.Errorf("%w: malformed repository %q", ErrInvalidInput, s)
	}

	return RepoRef{Owner: owner, Name: name}, nil
}

// FullName возвращает каноническое имя "owner/repo" в нижнем регистре.
// GitHub не различает регистр, поэтому fingerprint строится от этой формы.
func (r RepoRef) FullName() string {
	return strings.ToLower(r.Owner + "/" + r.Name)
}

// URL возвращает веб-адрес репозитория.
func (r RepoRef) URL() string {
	return "https://github.com/" + r.Owner + "/" + r.Name
}

// String реализует fmt.Stringer.
func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// PRRequest — запрос на анализ одного PR.
type PRRequest struct {
	// Repo — идентификатор репозитория (URL или owner/repo).
	Repo string `json:"repo_url"`

	// Number — номер PR (> 0).
	Number int `json:"pr_number"`

	// Credential — токен GitHub. Пустой — используется токен из конфигурации.
	Credential string `json:"github_token,omitempty"`

	// Force — пропустить чтение кэша (dedup сохраняется).
	Force bool `json:"force,omitempty"`
}

// Validate проверяет обязательные поля и возвращает разобранный репозиторий.
func (r PRRequest) Validate() (RepoRef, error) {
	ref, err := ParseRepoRef(r.Repo)
	if err != nil {
		return RepoRef{}, err
	}
	if r.Number <= 0 {
		return RepoRef{}, fmt.Errorf("%w: pr_number must be positive, got %d", ErrInvalidInput, r.Number)
	}
	return ref, nil
}

// PRFile — изменённый файл PR.
type PRFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
}

// PRContent — содержимое PR, полученное из GitHub.
type PRContent struct {
	Owner   string   `json:"owner"`
	Repo    string   `json:"repo"`
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	Body    string   `json:"body,omitempty"`
	HeadSHA string   `json:"head_sha"`
	BaseSHA string   `json:"base_sha"`
	Files   []PRFile `json:"files"`
	Diff    string   `json:"diff"`
}

// Ref возвращает RepoRef содержимого.
func (c *PRContent) Ref() RepoRef {
	return RepoRef{Owner: c.Owner, Name: c.Repo}
}

// Totals возвращает суммарные добавления и удаления.
func (c *PRContent) Totals() (additions, deletions int) {
	for _, f := range c.Files {
		additions += f.Additions
		deletions += f.Deletions
	}
	return additions, deletions
}

// Job — единица работы, передаваемая Execution Backend'у.
type Job struct {
	TaskID      uuid.UUID   `json:"task_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Repo        RepoRef     `json:"repo"`
	Number      int         `json:"pr_number"`

	// Marker — content marker, от которого вычислен Fingerprint ("sha:..." или "diff:...").
	Marker string `json:"marker"`

	// HeadSHA — head commit на момент вычисления fingerprint (если известен).
	HeadSHA string `json:"head_sha,omitempty"`

	// Credential — токен GitHub для fetch.
	Credential string `json:"credential,omitempty"`

	// Prefetched — содержимое, уже полученное при вычислении fingerprint.
	// Только для локального backend'а, по сети не передаётся.
	Prefetched *PRContent `json:"-"`
}

// JobFromTask восстанавливает Job из сохранённой задачи (после рестарта).
// Credential не хранится в реестре, поэтому используется токен по умолчанию.
func JobFromTask(t *Task) Job {
	ref, _ := ParseRepoRef(t.Repo)
	return Job{
		TaskID:      t.ID,
		Fingerprint: t.Fingerprint,
		Repo:        ref,
		Number:      t.PRNumber,
		Marker:      t.Marker,
		HeadSHA:     t.HeadSHA,
	}
}
