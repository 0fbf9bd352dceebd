package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/hanko-field/clinic-commerce/services"

// counters records domain outcomes. Instruments that fail to register are skipped.
type counters struct {
	instruments map[string]metric.Int64Counter
}

func newCounters(meter metric.Meter, names map[string]string) *counters {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	c := &counters{instruments: make(map[string]metric.Int64Counter, len(names))}
	for name, description := range names {
		counter, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil {
			continue
		}
		c.instruments[name] = counter
	}
	return c
}

func (c *counters) add(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	if counter, ok := c.instruments[name]; ok {
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
