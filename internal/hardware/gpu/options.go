package gpu

import (
	"errors"

	"go.uber.org/zap"
)

// Option configures how PlatformInfo and DeviceInfo handle their queries.
type Option func(*queryOptions)

type queryOptions struct {
	log    *zap.Logger
	strict bool
}

// WithLogger sets the logger that receives per-query warnings.
func WithLogger(log *zap.Logger) Option {
	return func(o *queryOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithStrict makes construction fail when any individual query fails.
// The default is best-effort: failures are logged, kept in Warnings and the
// affected field stays zero.
func WithStrict(strict bool) Option {
	return func(o *queryOptions) {
		o.strict = strict
	}
}

func newQueryOptions(opts []Option) queryOptions {
	o := queryOptions{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// queryLog collects failed queries for one entity under the configured policy.
type queryLog struct {
	opts     queryOptions
	failures []*QueryError
}

// record normalizes err into a *QueryError, logs it and keeps it.
func (q *queryLog) record(err error, op string, device int, attr string) {
	if err == nil {
		return
	}
	qe := asQueryError(err, op, device, attr)
	q.opts.log.Warn("Platform query failed",
		zap.String("op", qe.Op),
		zap.Int("device", qe.Device),
		zap.String("attribute", qe.Attribute),
		zap.Int("code", qe.Code),
		zap.String("message", qe.Message),
	)
	q.failures = append(q.failures, qe)
}

// err returns the joined failures in strict mode, nil otherwise.
func (q *queryLog) err() error {
	if !q.opts.strict || len(q.failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(q.failures))
	for _, f := range q.failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func asQueryError(err error, op string, device int, attr string) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		if qe.Attribute == "" && attr != "" {
			cp := *qe
			cp.Attribute = attr
			return &cp
		}
		return qe
	}
	return &QueryError{
		Op:        op,
		Device:    device,
		Attribute: attr,
		Code:      CodeUnknown,
		Message:   err.Error(),
	}
}
