package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTaskStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		allowed  bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusFailed, true},
		{TaskStatusPending, TaskStatusSucceeded, false},
		{TaskStatusRunning, TaskStatusSucceeded, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusPending, false},
		{TaskStatusSucceeded, TaskStatusFailed, false},
		{TaskStatusSucceeded, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusSucceeded, false},
		{TaskStatusFailed, TaskStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("expected %v, got %v", tt.allowed, got)
			}
		})
	}
}

func TestTask_Lifecycle(t *testing.T) {
	task := NewTask("fp", "octo/repo", 6, "abc", now)
	if task.Status != TaskStatusPending {
		t.Fatalf("expected PENDING, got %s", task.Status)
	}

	if err := task.MarkRunning(now.Add(time.Second)); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if task.Attempt != 1 || task.StartedAt == nil {
		t.Errorf("expected attempt 1 and started_at set, got %d %v", task.Attempt, task.StartedAt)
	}

	report := &Report{Summary: "ok"}
	if err := task.MarkSucceeded(report, "s3://reports/x.json", now.Add(3*time.Second)); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if task.Duration() != 2*time.Second {
		t.Errorf("expected 2s duration, got %v", task.Duration())
	}

	task.SetTTL(time.Hour)
	if task.ExpiresAt == nil || !task.ExpiresAt.Equal(now.Add(3*time.Second+time.Hour)) {
		t.Errorf("unexpected expires_at %v", task.ExpiresAt)
	}
	if task.IsExpired(now.Add(time.Hour)) {
		t.Error("task should not be expired yet")
	}
	if !task.IsExpired(now.Add(2 * time.Hour)) {
		t.Error("task should be expired")
	}
}

func TestTask_TerminalStatesAreFinal(t *testing.T) {
	task := NewTask("fp", "octo/repo", 6, "", now)
	task.MarkRunning(now)
	task.MarkFailed(NewAnalysisError("bad json", false), now)

	if err := task.MarkRunning(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := task.MarkSucceeded(&Report{}, "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if task.Result != nil {
		t.Error("failed task must not carry a result")
	}
}

func TestTask_MarkCancelled(t *testing.T) {
	pending := NewTask("fp", "octo/repo", 6, "", now)
	if err := pending.MarkCancelled("user request", now); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if pending.Status != TaskStatusFailed || pending.Error.Kind != ErrorKindCancelled {
		t.Errorf("expected FAILED(CANCELLED), got %s %+v", pending.Status, pending.Error)
	}

	running := NewTask("fp", "octo/repo", 6, "", now)
	running.MarkRunning(now)
	if err := running.MarkCancelled("user request", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("running task cannot be cancelled synchronously, got %v", err)
	}
}

func TestAsTaskError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), ErrorKindTimeout, true},
		{"cancel", context.Canceled, ErrorKindCancelled, false},
		{"invalid", fmt.Errorf("%w: bad", ErrInvalidInput), ErrorKindInvalidInput, false},
		{"rate limited", NewFetchError(FetchCodeRateLimited, "slow down"), ErrorKindFetch, true},
		{"not found", fmt.Errorf("wrap: %w", NewFetchError(FetchCodeNotFound, "gone")), ErrorKindFetch, false},
		{"unknown", errors.New("boom"), ErrorKindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := AsTaskError(tt.err)
			if te.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, te.Kind)
			}
			if te.Retryable != tt.retryable || IsRetryable(tt.err) != tt.retryable {
				t.Errorf("expected retryable=%v", tt.retryable)
			}
		})
	}
}

func TestTaskError_Is(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewFetchError(FetchCodeNotFound, "gone"))

	if !errors.Is(err, &TaskError{Kind: ErrorKindFetch}) {
		t.Error("expected match on kind")
	}
	if !errors.Is(err, &TaskError{Kind: ErrorKindFetch, Code: FetchCodeNotFound}) {
		t.Error("expected match on kind and code")
	}
	if errors.Is(err, &TaskError{Kind: ErrorKindFetch, Code: FetchCodeUnauthorized}) {
		t.Error("expected mismatch on code")
	}
}

func TestParseRepoRef(t *testing.T) {
	tests := []struct {
		in       string
		fullName string
		wantErr  bool
	}{
		{"https://github.com/Octo/Repo", "octo/repo", false},
		{"https://github.com/octo/repo.git", "octo/repo", false},
		{"https://github.com/octo/repo/pull/6", "octo/repo", false},
		{"github.com/octo/repo", "octo/repo", false},
		{"octo/repo", "octo/repo", false},
		{"", "", true},
		{"https://github.com/octo", "", true},
		{"octo/re po", "", true},
		{"https://gitlab.com/octo/repo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := ParseRepoRef(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.FullName() != tt.fullName {
				t.Errorf("expected %s, got %s", tt.fullName, ref.FullName())
			}
		})
	}
}

func TestPRRequest_Validate(t *testing.T) {
	if _, err := (PRRequest{Repo: "octo/repo", Number: 0}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero number, got %v", err)
	}
	ref, err := (PRRequest{Repo: "octo/repo", Number: 3}).Validate()
	if err != nil || ref.Owner != "octo" {
		t.Errorf("unexpected result %v %v", ref, err)
	}
}

func TestNormalize(t *testing.T) {
	if NormalizeSeverity("HIGH") != SeverityError {
		t.Error("expected high → error")
	}
	if NormalizeSeverity("whatever") != SeverityInfo {
		t.Error("expected unknown severity → info")
	}
	if NormalizeCategory("Best Practice") != CategoryBestPractice {
		t.Error("expected best practice normalization")
	}
	if NormalizeCategory("security") != CategoryBestPractice {
		t.Error("expected unknown category → best_practice")
	}
}
