// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package oneshot implements the §4.5 Oneshot Engine: compiles a caller
// supplied, static pipeline description using the same pin/type primitives
// as the dynamic engine, wires the two synthetic marker kinds
// (streamkit::http_input / streamkit::http_output), and runs the graph to
// completion rather than indefinitely.
package oneshot

import (
	"context"
	"fmt"

	"github.com/rapidaai/streamkit/internal/nodes/synthetic"
	"github.com/rapidaai/streamkit/pkg/commons"
	"github.com/rapidaai/streamkit/pkg/streamkit/config"
	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/resource"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// NodeSpec names one node instance in a static pipeline description: its id,
// its kind (resolved via a Registry, or one of the synthetic marker kinds
// supplied out of band as Runner.Run's httpInput/httpOutput factories), and
// its construction params.
type NodeSpec struct {
	NodeID string
	Kind   string
	Params []byte
}

// EdgeSpec names one static edge between two pins.
type EdgeSpec struct {
	FromNode, FromPin string
	ToNode, ToPin     string
}

// Graph is the caller-supplied static pipeline description.
type Graph struct {
	Nodes []NodeSpec
	Edges []EdgeSpec
}

// Runner compiles and executes one Graph to completion against a shared
// Registry, plus the two synthetic marker factories supplied per request
// (http_input reads a caller stream, http_output writes a caller sink).
type Runner struct {
	registry  *node.Registry
	cfg       config.GlobalConfig
	logger    commons.Logger
	audioPool *resource.AudioFramePool
}

// NewRunner builds a Runner sharing one Registry and GlobalConfig across
// every request — nodes are stateless factories, not live instances.
func NewRunner(registry *node.Registry, cfg config.GlobalConfig, logger commons.Logger) *Runner {
	return &Runner{registry: registry, cfg: cfg, logger: logger, audioPool: resource.NewAudioFramePool()}
}

type liveOneshotNode struct {
	done   <-chan struct{}
	runErr *error
}

// Run compiles g and executes it to completion: every source signals end,
// packets drain downstream, sinks close, every node exits. ctx's
// cancellation/deadline propagates into every node's NodeContext.Ctx, and
// httpInput/httpOutput supply the synthetic marker kinds' factories for this
// one request (nil is fine if the graph doesn't use that marker kind).
func (r *Runner) Run(ctx context.Context, g Graph, httpInput, httpOutput node.Factory) error {
	pinMeta := make(map[string]node.PinUpdate)
	nodes := make(map[string]node.Node, len(g.Nodes))
	outputsByNode := make(map[string][]types.OutputPin)
	inputsByNode := make(map[string][]types.InputPin)

	for _, spec := range g.Nodes {
		n, err := r.buildNode(spec, httpInput, httpOutput)
		if err != nil {
			return err
		}
		update, err := n.Initialize(ctx, node.InitContext{NodeID: spec.NodeID})
		if err != nil {
			return skerrors.Configuration("oneshot: %s.initialize: %v", spec.NodeID, err)
		}
		inputs, outputs := n.InputPins(), n.OutputPins()
		if update.Kind == node.Updated {
			inputs, outputs = update.Inputs, update.Outputs
		}
		nodes[spec.NodeID] = n
		inputsByNode[spec.NodeID] = inputs
		outputsByNode[spec.NodeID] = outputs
		pinMeta[spec.NodeID] = update
	}

	if err := validateEdges(g.Edges, inputsByNode, outputsByNode); err != nil {
		return err
	}

	inputChans := make(map[string]map[string]chan types.Packet)
	for nodeID, inputs := range inputsByNode {
		inputChans[nodeID] = make(map[string]chan types.Packet, len(inputs))
		for _, pin := range inputs {
			inputChans[nodeID][pin.Name] = make(chan types.Packet, r.cfg.NodeInputCapacity)
		}
	}

	// Fan-out per output pin: a oneshot graph is small and static, so rather
	// than a full Pin Distributor actor per output, forward directly —
	// multiple destinations on the same output pin each get a cloned packet.
	fanout := make(map[string]map[string][]chan types.Packet)
	for _, e := range g.Edges {
		if fanout[e.FromNode] == nil {
			fanout[e.FromNode] = make(map[string][]chan types.Packet)
		}
		fanout[e.FromNode][e.FromPin] = append(fanout[e.FromNode][e.FromPin], inputChans[e.ToNode][e.ToPin])
	}

	stateTx := make(chan state.Update, r.cfg.ControlCapacity)
	statsTx := make(chan stats.Update, r.cfg.ControlCapacity)
	telemetryTx := make(chan telemetry.Event, r.cfg.ControlCapacity)
	go drainIgnored(stateTx, statsTx, telemetryTx)

	live := make(map[string]*liveOneshotNode, len(nodes))
	for nodeID, n := range nodes {
		controlCh := make(chan node.ControlMessage, r.cfg.ControlCapacity)

		inputRecv := make(map[string]<-chan types.Packet, len(inputChans[nodeID]))
		for pin, ch := range inputChans[nodeID] {
			inputRecv[pin] = ch
		}

		outputsForNode := make(map[string]chan<- types.Packet)
		var flush []func()
		for _, pin := range outputsByNode[nodeID] {
			pinOut, done := make(chan types.Packet, r.cfg.PinDistributorCapacity), make(chan struct{})
			outputsForNode[pin.Name] = pinOut
			go forwardFanout(pinOut, map[string][]chan types.Packet{pin.Name: fanout[nodeID][pin.Name]}, done)
			flush = append(flush, func() {
				close(pinOut)
				select {
				case <-done:
				case <-ctx.Done():
				}
			})
		}

		nctx := &node.Context{
			NodeID:      nodeID,
			Inputs:      inputRecv,
			Control:     controlCh,
			Output:      node.NewDirectOutputSender(outputsForNode),
			BatchSize:   1,
			StateTx:     stateTx,
			StatsTx:     statsTx,
			TelemetryTx: telemetry.NewChannelSender(telemetryTx),
			Ctx:         ctx,
			AudioPool:   r.audioPool,
		}

		var runErr error
		nodeDone := make(chan struct{})
		go func(n node.Node, nctx *node.Context) {
			defer close(nodeDone)
			runErr = n.Run(nctx)
			for _, f := range flush {
				f()
			}
		}(n, nctx)

		live[nodeID] = &liveOneshotNode{done: nodeDone, runErr: &runErr}
	}

	// Close every fan-out destination as soon as its producer finishes, so
	// downstream nodes observe input closure and exit in turn. Each node's
	// completion is watched independently and concurrently — waiting in a
	// fixed order would deadlock whenever a downstream node happens to be
	// visited before the upstream node that feeds it.
	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		var pending int
		finished := make(chan string, len(live))
		for nodeID, l := range live {
			pending++
			go func(nodeID string, l *liveOneshotNode) {
				<-l.done
				for _, dsts := range fanout[nodeID] {
					for _, d := range dsts {
						closeOnce(d)
					}
				}
				finished <- nodeID
			}(nodeID, l)
		}
		for i := 0; i < pending; i++ {
			<-finished
		}
	}()
	<-allDone

	var firstErr error
	for nodeID, l := range live {
		if *l.runErr != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", nodeID, *l.runErr)
		}
	}
	return firstErr
}

func (r *Runner) buildNode(spec NodeSpec, httpInput, httpOutput node.Factory) (node.Node, error) {
	switch spec.Kind {
	case synthetic.KindHTTPInput:
		if httpInput == nil {
			return nil, skerrors.Configuration("oneshot: %s: no http_input source supplied for this request", spec.NodeID)
		}
		return httpInput(spec.Params)
	case synthetic.KindHTTPOutput:
		if httpOutput == nil {
			return nil, skerrors.Configuration("oneshot: %s: no http_output sink supplied for this request", spec.NodeID)
		}
		return httpOutput(spec.Params)
	default:
		return r.registry.Create(spec.Kind, spec.Params)
	}
}

func validateEdges(edges []EdgeSpec, inputs map[string][]types.InputPin, outputs map[string][]types.OutputPin) error {
	registry := types.DefaultRegistry()
	for _, e := range edges {
		fromPin, ok := types.FindOutputPin(outputs[e.FromNode], e.FromPin)
		if !ok {
			return skerrors.Configuration("oneshot: unknown output pin %s.%s", e.FromNode, e.FromPin)
		}
		toPin, ok := types.FindInputPin(inputs[e.ToNode], e.ToPin)
		if !ok {
			return skerrors.Configuration("oneshot: unknown input pin %s.%s", e.ToNode, e.ToPin)
		}
		if !types.CanConnect(fromPin.ProducesType, toPin.AcceptsTypes, registry) {
			return skerrors.Configuration("oneshot: %s.%s incompatible with %s.%s", e.FromNode, e.FromPin, e.ToNode, e.ToPin)
		}
	}
	return nil
}

// forwardFanout reads rawOut until closed/done and clones each packet to
// every registered destination (first destination reuses the packet).
func forwardFanout(rawOut <-chan types.Packet, dsts map[string][]chan types.Packet, done chan struct{}) {
	defer close(done)
	for pkt := range rawOut {
		for _, group := range dsts {
			first := true
			for _, d := range group {
				p := pkt
				if !first {
					p = pkt.Clone()
				}
				first = false
				d <- p
			}
		}
	}
}

func closeOnce(ch chan types.Packet) {
	defer func() { recover() }()
	close(ch)
}

func drainIgnored(stateTx <-chan state.Update, statsTx <-chan stats.Update, telemetryTx <-chan telemetry.Event) {
	for {
		select {
		case _, ok := <-stateTx:
			if !ok {
				stateTx = nil
			}
		case _, ok := <-statsTx:
			if !ok {
				statsTx = nil
			}
		case _, ok := <-telemetryTx:
			if !ok {
				telemetryTx = nil
			}
		}
		if stateTx == nil && statsTx == nil && telemetryTx == nil {
			return
		}
	}
}
