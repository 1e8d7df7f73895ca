package cloudfile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/utils"
)

type correlationKey struct{}

// WithCorrelationID returns a context whose operations are audited under id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id attached by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

func correlationFor(ctx context.Context) string {
	if id := CorrelationID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// auditor writes one record per facade operation.
type auditor struct {
	logger  utils.Logger
	enabled bool
}

func newAuditor(logger utils.Logger, enabled bool) *auditor {
	return &auditor{
		logger:  utils.OrNop(logger).WithComponent("audit"),
		enabled: enabled,
	}
}

type auditRecord struct {
	correlationID string
	operation     string
	site          string
	path          string
	target        string
	bytes         int
	cached        bool
	start         time.Time
	err           error
}

func (a *auditor) record(r auditRecord) {
	if a == nil || !a.enabled {
		return
	}
	defer func() { _ = recover() }()

	fields := map[string]interface{}{
		"correlation_id": r.correlationID,
		"operation":      r.operation,
		"site":           r.site,
		"path":           r.path,
		"outcome":        outcome(r.err),
		"duration_ms":    time.Since(r.start).Milliseconds(),
	}
	if r.target != "" {
		fields["target"] = r.target
	}
	if r.bytes > 0 {
		fields["bytes"] = r.bytes
	}
	if r.cached {
		fields["cached"] = true
	}
	if r.err != nil {
		fields["error"] = r.err.Error()
		fields["error_code"] = string(errors.CodeOf(r.err))
		a.logger.Warn("audit", fields)
		return
	}
	a.logger.Info("audit", fields)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.IsNotFound(err):
		return "not_found"
	default:
		return "failure"
	}
}
