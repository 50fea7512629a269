package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
)

// Tee files a report to a primary sink and copies it to mirrors. Only the
// primary's error is returned; mirror failures are logged.
type Tee struct {
	primary ReportSink
	mirrors []ReportSink
	logger  *zap.Logger
}

// NewTee creates a tee over primary and any mirrors.
func NewTee(logger *zap.Logger, primary ReportSink, mirrors ...ReportSink) *Tee {
	return &Tee{primary: primary, mirrors: mirrors, logger: logger.Named("store")}
}

// AppendReport implements ReportSink.
func (t *Tee) AppendReport(ctx context.Context, r models.Report) error {
	if err := t.primary.AppendReport(ctx, r); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.AppendReport(ctx, r); err != nil {
			t.logger.Warn("Report mirror failed",
				zap.String("task_id", r.TaskID),
				zap.Error(err))
		}
	}
	return nil
}
