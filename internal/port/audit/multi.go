package audit

import (
	"context"
	"errors"
)

// MultiSink fans each event out to every child sink. A failing sink never
// stops delivery to the others; the errors come back joined.
type MultiSink []Sink

// NewMulti combines sinks into one. Nil entries are dropped, so callers can
// pass optional sinks without checking them first.
func NewMulti(sinks ...Sink) Sink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Record delivers e to every sink.
func (m MultiSink) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
