// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dynamic

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/rapidaai/streamkit/pkg/streamkit/state"
)

// Metrics wraps the OpenTelemetry instruments the engine records into:
// one-hot per-(node_id,state) gauges (Testable Property 6) and a nodes_active
// gauge tracking live node count.
type Metrics struct {
	nodesActive metric.Int64UpDownCounter
	nodeState   metric.Int64Gauge
}

// NewMetrics builds Metrics against provider's "streamkit.engine.dynamic"
// meter. A nil provider yields a fully no-op Metrics, used by tests that
// don't care about telemetry wiring.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter("streamkit.engine.dynamic")

	nodesActive, err := meter.Int64UpDownCounter(
		"streamkit.nodes_active",
		metric.WithDescription("number of nodes currently live in the engine"),
	)
	if err != nil {
		return nil, err
	}

	nodeState, err := meter.Int64Gauge(
		"streamkit.node_state",
		metric.WithDescription("one-hot gauge: 1 for a node's current state, 0 for every other state it has occupied"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{nodesActive: nodesActive, nodeState: nodeState}, nil
}

// RecordTransition implements the §4.2 one-hot gauge discipline: zero the
// previous state's series (if any), set the new state's series to 1.
func (m *Metrics) RecordTransition(nodeID string, previous *state.State, next state.State) {
	if m == nil {
		return
	}
	ctx := context.Background()
	if previous != nil {
		m.nodeState.Record(ctx, 0, metric.WithAttributes(
			attribute.String("node_id", nodeID),
			attribute.String("state", previous.Name()),
		))
	}
	m.nodeState.Record(ctx, 1, metric.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("state", next.Name()),
	))
}

// ZeroAll records every tracked node's current state gauge back to 0, used
// during Shutdown's final cleanup step.
func (m *Metrics) ZeroAll(states map[string]state.State) {
	if m == nil {
		return
	}
	ctx := context.Background()
	for nodeID, s := range states {
		m.nodeState.Record(ctx, 0, metric.WithAttributes(
			attribute.String("node_id", nodeID),
			attribute.String("state", s.Name()),
		))
	}
}

func (m *Metrics) IncNodesActive() {
	if m == nil {
		return
	}
	m.nodesActive.Add(context.Background(), 1)
}

func (m *Metrics) DecNodesActive() {
	if m == nil {
		return
	}
	m.nodesActive.Add(context.Background(), -1)
}
