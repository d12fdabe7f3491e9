package storage

import (
	"context"
	"errors"

	"github.com/shaiso/prreview/internal/domain"
)

// ErrNotConfigured — архив отчётов не настроен.
var ErrNotConfigured = errors.New("report store not configured")

// ReportStore — архив отчётов. Ссылка из Archive попадает в Task.ResultRef.
type ReportStore interface {
	Archive(ctx context.Context, task *domain.Task, report *domain.Report) (ref string, err error)
	Load(ctx context.Context, ref string) (*domain.Report, error)
}
