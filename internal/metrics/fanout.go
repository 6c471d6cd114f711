package metrics

import (
	"context"
	"time"
)

// Observer is the outcome sink shape shared by Prometheus and CloudWatch.
type Observer interface {
	ObserveIsolation(ctx context.Context, outcome string, elapsed time.Duration)
}

// Fanout forwards each observation to every non-nil observer.
type Fanout []Observer

// ObserveIsolation implements engine.OutcomeObserver.
func (f Fanout) ObserveIsolation(ctx context.Context, outcome string, elapsed time.Duration) {
	for _, o := range f {
		if o != nil {
			o.ObserveIsolation(ctx, outcome, elapsed)
		}
	}
}
