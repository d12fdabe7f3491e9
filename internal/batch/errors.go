package batch

import "errors"

// ErrNoSubmitter — Orchestrator создан без Submitter.
var ErrNoSubmitter = errors.New("batch: submitter is not configured")
