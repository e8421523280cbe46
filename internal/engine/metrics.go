package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type instruments struct {
	legs         metric.Int64Counter
	nodes        metric.Int64Counter
	nodeDuration metric.Float64Histogram
}

func newInstruments(meter metric.Meter) *instruments {
	ins := &instruments{
		legs:         noop.Int64Counter{},
		nodes:        noop.Int64Counter{},
		nodeDuration: noop.Float64Histogram{},
	}
	if c, err := meter.Int64Counter("workflow.legs",
		metric.WithDescription("Execution legs finished, by outcome")); err == nil {
		ins.legs = c
	}
	if c, err := meter.Int64Counter("workflow.nodes",
		metric.WithDescription("Nodes executed, by kind and outcome")); err == nil {
		ins.nodes = c
	}
	if h, err := meter.Float64Histogram("workflow.node.duration",
		metric.WithDescription("Node execution time"), metric.WithUnit("s")); err == nil {
		ins.nodeDuration = h
	}
	return ins
}

func (i *instruments) leg(ctx context.Context, outcome string) {
	i.legs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i *instruments) node(ctx context.Context, kind, outcome string, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", outcome))
	i.nodes.Add(ctx, 1, attrs)
	i.nodeDuration.Record(ctx, took.Seconds(), attrs)
}
