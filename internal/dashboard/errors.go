package dashboard

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/rongwang/sts-clearance/internal/models"
)

// MetricError reports a metric that could not be computed. The value returned
// alongside it is the documented safe default.
type MetricError struct {
	Op       string
	EntityID string
	Err      error
}

func (e *MetricError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s(%s): %v", e.Op, e.EntityID, e.Err)
}

func (e *MetricError) Unwrap() error { return e.Err }

// AccessDeniedError is returned by the dashboard entry points when access validation fails.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string { return "dashboard access denied: " + e.Reason }

func (e *AccessDeniedError) Unwrap() error { return models.ErrForbidden }

// partial accumulates the failures of a fail-soft aggregation.
type partial struct {
	err error
}

func (p *partial) add(err error) {
	p.err = multierr.Append(p.err, err)
}

func (p *partial) failed() bool { return p.err != nil }

func (p *partial) messages() []string {
	errs := multierr.Errors(p.err)
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
