// internal/publish/fanout.go
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/metrics"
)

// Sink is a named publisher.
type Sink struct {
	Name      string
	Publisher Publisher
}

// Fanout publishes every price to all sinks. One failing sink does not stop the others.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Collector
}

func NewFanout(m *metrics.Collector, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, metrics: m}
}

// Publish implements Publisher.
func (f *Fanout) Publish(ctx context.Context, res *model.PriceResult) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.Publisher.Publish(ctx, res)
		f.metrics.RecordPublish(s.Name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
