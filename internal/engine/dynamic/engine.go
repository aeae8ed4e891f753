// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dynamic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

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

const (
	removeNodeGraceful = 5 * time.Second
	removeNodeAbort    = 1 * time.Second
	shutdownGraceful   = 2 * time.Second
	shutdownAbort      = 1 * time.Second
	pinHandshakeWait   = 2 * time.Second
)

// connKey addresses one established edge by its four-part name, the shape
// Disconnect is given (it never sees a ConnectionID).
type connKey struct {
	FromNode, FromPin string
	ToNode, ToPin     string
}

// Engine is the §4.2 single control-plane actor: it owns every live node,
// every Pin Distributor, and the full routing table for one session. All
// mutable state is single-writer, touched only from Run's goroutine.
type Engine struct {
	controlRx <-chan ControlMessage
	queryRx   <-chan QueryMessage

	registry     *node.Registry
	typeRegistry *types.Registry
	cfg          config.GlobalConfig
	logger       commons.Logger
	metrics      *Metrics
	sessionID    *string
	audioPool    *resource.AudioFramePool

	liveNodes        map[string]*LiveNode
	nodeInputs       map[pinKey]chan types.Packet
	pinDistributors  map[pinKey]chan<- DistributorConfigMessage
	pinManagementTxs map[string]chan<- node.PinManagementMessage
	nodePinMetadata  map[string]PinMetadata
	nodeStates       map[string]state.State
	nodeStats        map[string]stats.Stats
	connections      map[connKey]ConnectionID
	startedSources   map[string]bool

	stateSubs     []chan state.Update
	statsSubs     []chan stats.Update
	telemetrySubs []chan telemetry.Event

	stateTx     chan state.Update
	statsTx     chan stats.Update
	telemetryTx chan telemetry.Event
}

// New builds an Engine and the Handle external callers use to drive it. The
// caller must run e.Run() in its own goroutine.
func New(registry *node.Registry, cfg config.GlobalConfig, logger commons.Logger, metrics *Metrics, sessionID *string) (*Engine, *Handle) {
	controlCh := make(chan ControlMessage, cfg.ControlCapacity)
	queryCh := make(chan QueryMessage, cfg.ControlCapacity)

	e := &Engine{
		controlRx:        controlCh,
		queryRx:          queryCh,
		registry:         registry,
		typeRegistry:     types.DefaultRegistry(),
		cfg:              cfg,
		logger:           logger,
		metrics:          metrics,
		sessionID:        sessionID,
		audioPool:        resource.NewAudioFramePool(),
		liveNodes:        make(map[string]*LiveNode),
		nodeInputs:       make(map[pinKey]chan types.Packet),
		pinDistributors:  make(map[pinKey]chan<- DistributorConfigMessage),
		pinManagementTxs: make(map[string]chan<- node.PinManagementMessage),
		nodePinMetadata:  make(map[string]PinMetadata),
		nodeStates:       make(map[string]state.State),
		nodeStats:        make(map[string]stats.Stats),
		connections:      make(map[connKey]ConnectionID),
		startedSources:   make(map[string]bool),
		stateTx:          make(chan state.Update, cfg.ControlCapacity),
		statsTx:          make(chan stats.Update, cfg.ControlCapacity),
		telemetryTx:      make(chan telemetry.Event, cfg.ControlCapacity),
	}
	return e, &Handle{controlTx: controlCh, queryTx: queryCh}
}

// Run is the engine's entire lifecycle: a non-biased select across control,
// query, and the three node-outbound channels, until Shutdown completes.
func (e *Engine) Run() {
	for {
		select {
		case msg, ok := <-e.controlRx:
			if !ok {
				return
			}
			if e.handleControl(msg) {
				return
			}
		case q, ok := <-e.queryRx:
			if ok {
				e.handleQuery(q)
			}
		case u, ok := <-e.stateTx:
			if ok {
				e.handleStateUpdate(u)
			}
		case u, ok := <-e.statsTx:
			if ok {
				e.handleStatsUpdate(u)
			}
		case ev, ok := <-e.telemetryTx:
			if ok {
				e.handleTelemetryEvent(ev)
			}
		}
	}
}

func respond(tx chan<- error, err error) {
	if tx == nil {
		return
	}
	select {
	case tx <- err:
	default:
	}
}

// handleControl dispatches one EngineControlMessage; it returns true only
// once Shutdown's protocol has fully completed.
func (e *Engine) handleControl(msg ControlMessage) bool {
	switch {
	case msg.AddNode != nil:
		respond(msg.AddNode.ResponseTx, e.addNode(msg.AddNode))
	case msg.RemoveNode != nil:
		respond(msg.RemoveNode.ResponseTx, e.removeNode(msg.RemoveNode.NodeID))
	case msg.Connect != nil:
		respond(msg.Connect.ResponseTx, e.connect(msg.Connect))
	case msg.Disconnect != nil:
		respond(msg.Disconnect.ResponseTx, e.disconnect(msg.Disconnect))
	case msg.TuneNode != nil:
		respond(msg.TuneNode.ResponseTx, e.tuneNode(msg.TuneNode))
	case msg.Shutdown != nil:
		e.shutdown(msg.Shutdown)
		return true
	}
	return false
}

// addNode implements §4.2 AddNode. A factory or Initialize failure is logged
// and the node is dropped — the engine itself never fails.
func (e *Engine) addNode(msg *AddNode) error {
	if _, exists := e.nodePinMetadata[msg.NodeID]; exists {
		err := skerrors.Configuration("node %q already exists", msg.NodeID)
		e.logger.Warnw("add_node rejected", "node_id", msg.NodeID, "error", err)
		return err
	}
	if synthetic.IsSynthetic(msg.Kind) {
		err := skerrors.Configuration("node kind %q is reserved for the oneshot engine", msg.Kind)
		e.logger.Warnw("add_node rejected synthetic kind", "node_id", msg.NodeID, "kind", msg.Kind)
		return err
	}

	n, err := e.registry.Create(msg.Kind, msg.Params)
	if err != nil {
		e.logger.Warnw("add_node factory failed", "node_id", msg.NodeID, "kind", msg.Kind, "error", err)
		return err
	}

	update, err := n.Initialize(context.Background(), node.InitContext{NodeID: msg.NodeID, StateTx: e.stateTx})
	if err != nil {
		e.logger.Warnw("add_node initialize failed", "node_id", msg.NodeID, "error", err)
		return err
	}

	inputs := n.InputPins()
	outputs := n.OutputPins()
	if update.Kind == node.Updated {
		inputs, outputs = update.Inputs, update.Outputs
	}
	e.nodePinMetadata[msg.NodeID] = PinMetadata{Inputs: inputs, Outputs: outputs}

	inputRecv := make(map[string]<-chan types.Packet, len(inputs))
	for _, pin := range inputs {
		ch := make(chan types.Packet, e.cfg.NodeInputCapacity)
		e.nodeInputs[pinKey{NodeID: msg.NodeID, Pin: pin.Name}] = ch
		inputRecv[pin.Name] = ch
	}

	outputSenders := make(map[string]chan<- types.Packet, len(outputs))
	for _, pin := range outputs {
		dataCh := make(chan types.Packet, e.cfg.PinDistributorCapacity)
		configCh := make(chan DistributorConfigMessage, e.cfg.ControlCapacity)
		dist := NewDistributor(msg.NodeID, pin.Name, dataCh, configCh, e.logger)
		go dist.Run()
		e.pinDistributors[pinKey{NodeID: msg.NodeID, Pin: pin.Name}] = configCh
		outputSenders[pin.Name] = dataCh
	}

	var pinMgmtRx <-chan node.PinManagementMessage
	if n.SupportsDynamicPins() {
		ch := make(chan node.PinManagementMessage, e.cfg.ControlCapacity)
		e.pinManagementTxs[msg.NodeID] = ch
		pinMgmtRx = ch
	}

	controlCh := make(chan node.ControlMessage, e.cfg.ControlCapacity)
	doneCh := make(chan struct{})

	nctx := &node.Context{
		NodeID:          msg.NodeID,
		Inputs:          inputRecv,
		Control:         controlCh,
		Output:          node.NewDirectOutputSender(outputSenders),
		BatchSize:       1,
		StateTx:         e.stateTx,
		StatsTx:         e.statsTx,
		TelemetryTx:     telemetry.NewChannelSender(e.telemetryTx),
		SessionID:       e.sessionID,
		PinManagementRx: pinMgmtRx,
		AudioPool:       e.audioPool,
	}

	go func() {
		defer close(doneCh)
		if runErr := n.Run(nctx); runErr != nil {
			e.logger.Warnw("node run exited with error", "node_id", msg.NodeID, "error", runErr)
		}
	}()

	e.liveNodes[msg.NodeID] = &LiveNode{
		ControlTx:       controlCh,
		Done:            doneCh,
		PinManagementTx: e.pinManagementTxs[msg.NodeID],
	}
	e.nodeStates[msg.NodeID] = state.New(state.Initializing)
	e.metrics.RecordTransition(msg.NodeID, nil, state.New(state.Initializing))
	e.metrics.IncNodesActive()
	e.checkActivation()
	return nil
}

// removeNode implements §4.2 RemoveNode.
func (e *Engine) removeNode(nodeID string) error {
	live, ok := e.liveNodes[nodeID]
	if !ok {
		return skerrors.Configuration("node %q not found", nodeID)
	}
	delete(e.liveNodes, nodeID)

	trySendControl(live.ControlTx, node.ControlMessage{Kind: node.ControlShutdown})

	for key, ch := range e.nodeInputs {
		if key.NodeID == nodeID {
			close(ch)
			delete(e.nodeInputs, key)
		}
	}

	waitForDone(live.Done, removeNodeGraceful, removeNodeAbort)

	for key, cfgTx := range e.pinDistributors {
		if key.NodeID == nodeID {
			trySendDistributorShutdown(cfgTx)
			delete(e.pinDistributors, key)
		}
	}

	delete(e.nodePinMetadata, nodeID)
	delete(e.nodeStates, nodeID)
	delete(e.nodeStats, nodeID)
	delete(e.pinManagementTxs, nodeID)
	delete(e.startedSources, nodeID)
	e.metrics.DecNodesActive()
	return nil
}

func trySendControl(ch chan<- node.ControlMessage, msg node.ControlMessage) {
	select {
	case ch <- msg:
	default:
		go func() { ch <- msg }()
	}
}

func trySendDistributorShutdown(ch chan<- DistributorConfigMessage) {
	select {
	case ch <- DistributorConfigMessage{Shutdown: &distributorShutdown{}}:
	default:
	}
}

// waitForDone blocks up to graceful for live.Done to close; Go goroutines
// cannot be forcibly aborted, so the abort window is best-effort: it simply
// bounds how much longer the engine waits before moving on regardless.
func waitForDone(done <-chan struct{}, graceful, abort time.Duration) {
	select {
	case <-done:
		return
	case <-time.After(graceful):
	}
	select {
	case <-done:
	case <-time.After(abort):
	}
}

// connect implements §4.2 Connect, including on-demand dynamic-pin creation.
func (e *Engine) connect(msg *Connect) error {
	fromMeta, ok := e.nodePinMetadata[msg.FromNode]
	if !ok {
		return skerrors.Configuration("connect: source node %q not found", msg.FromNode)
	}
	fromPin, ok := types.FindOutputPin(fromMeta.Outputs, msg.FromPin)
	if !ok {
		return skerrors.Configuration("connect: source pin %s.%s not found", msg.FromNode, msg.FromPin)
	}

	toMeta, ok := e.nodePinMetadata[msg.ToNode]
	if !ok {
		return skerrors.Configuration("connect: destination node %q not found", msg.ToNode)
	}

	toPin, ok := types.FindInputPin(toMeta.Inputs, msg.ToPin)
	if !ok {
		negotiated, err := e.negotiateDynamicInputPin(msg.ToNode, msg.ToPin)
		if err != nil {
			return err
		}
		toPin = negotiated
		toMeta = e.nodePinMetadata[msg.ToNode]
	} else if !types.CanConnect(fromPin.ProducesType, toPin.AcceptsTypes, e.typeRegistry) {
		return skerrors.Configuration("connect: %s.%s (%s) incompatible with %s.%s",
			msg.FromNode, msg.FromPin, fromPin.ProducesType, msg.ToNode, msg.ToPin)
	}

	destSender, ok := e.nodeInputs[pinKey{NodeID: msg.ToNode, Pin: toPin.Name}]
	if !ok {
		return skerrors.Fatal("connect: destination input channel missing for %s.%s", msg.ToNode, toPin.Name)
	}
	distCfgTx, ok := e.pinDistributors[pinKey{NodeID: msg.FromNode, Pin: msg.FromPin}]
	if !ok {
		return skerrors.Fatal("connect: source distributor missing for %s.%s", msg.FromNode, msg.FromPin)
	}

	id := ConnectionID(uuid.NewString())
	select {
	case distCfgTx <- (DistributorConfigMessage{AddConnection: &AddConnection{ID: id, Sender: destSender, Mode: msg.Mode}}):
	default:
		go func() {
			distCfgTx <- DistributorConfigMessage{AddConnection: &AddConnection{ID: id, Sender: destSender, Mode: msg.Mode}}
		}()
	}

	e.connections[connKey{msg.FromNode, msg.FromPin, msg.ToNode, msg.ToPin}] = id
	return nil
}

// negotiateDynamicInputPin runs the RequestAddInputPin/AddedInputPin
// handshake against a node that supports dynamic pins, and records the
// accepted pin plus a fresh input channel.
func (e *Engine) negotiateDynamicInputPin(toNode, suggestedName string) (types.InputPin, error) {
	mgmtTx, ok := e.pinManagementTxs[toNode]
	if !ok {
		return types.InputPin{}, skerrors.Configuration(
			"connect: pin %s.%s not found and node does not support dynamic pins", toNode, suggestedName)
	}

	responseCh := make(chan node.AddInputPinResult, 1)
	select {
	case mgmtTx <- (node.PinManagementMessage{RequestAddInputPin: &node.RequestAddInputPin{
		SuggestedName: suggestedName,
		ResponseTx:    responseCh,
	}}):
	case <-time.After(pinHandshakeWait):
		return types.InputPin{}, skerrors.Fatal("connect: dynamic pin request to %q timed out", toNode)
	}

	var result node.AddInputPinResult
	select {
	case result = <-responseCh:
	case <-time.After(pinHandshakeWait):
		return types.InputPin{}, skerrors.Fatal("connect: dynamic pin response from %q timed out", toNode)
	}
	if result.Err != nil {
		return types.InputPin{}, skerrors.Configuration("connect: %q declined dynamic pin %q: %v", toNode, suggestedName, result.Err)
	}

	ch := make(chan types.Packet, e.cfg.NodeInputCapacity)
	e.nodeInputs[pinKey{NodeID: toNode, Pin: result.Pin.Name}] = ch

	meta := e.nodePinMetadata[toNode]
	meta.Inputs = append(meta.Inputs, result.Pin)
	e.nodePinMetadata[toNode] = meta

	select {
	case mgmtTx <- (node.PinManagementMessage{AddedInputPin: &node.AddedInputPin{Pin: result.Pin, Receiver: ch}}):
	default:
		go func() {
			mgmtTx <- node.PinManagementMessage{AddedInputPin: &node.AddedInputPin{Pin: result.Pin, Receiver: ch}}
		}()
	}

	return result.Pin, nil
}

// disconnect implements §4.2 Disconnect: idempotent, tolerates "not found".
func (e *Engine) disconnect(msg *Disconnect) error {
	key := connKey{msg.FromNode, msg.FromPin, msg.ToNode, msg.ToPin}
	id, ok := e.connections[key]
	if !ok {
		return nil
	}
	if distCfgTx, ok := e.pinDistributors[pinKey{NodeID: msg.FromNode, Pin: msg.FromPin}]; ok {
		select {
		case distCfgTx <- (DistributorConfigMessage{RemoveConnection: &RemoveConnection{ID: id}}):
		default:
		}
	}
	delete(e.connections, key)
	return nil
}

// tuneNode implements §4.2 TuneNode.
func (e *Engine) tuneNode(msg *TuneNode) error {
	live, ok := e.liveNodes[msg.NodeID]
	if !ok {
		return skerrors.Configuration("tune_node: node %q not found", msg.NodeID)
	}
	trySendControl(live.ControlTx, msg.Message)
	return nil
}

// shutdown implements the §4.2 five-step Shutdown protocol.
func (e *Engine) shutdown(msg *Shutdown) {
	// 1. Close every input channel so nodes blocked on recv wake.
	for key, ch := range e.nodeInputs {
		close(ch)
		delete(e.nodeInputs, key)
	}

	// 2. Try-send Shutdown to every distributor; drop their senders.
	for key, cfgTx := range e.pinDistributors {
		trySendDistributorShutdown(cfgTx)
		delete(e.pinDistributors, key)
	}

	// 3. Try-send Shutdown to every node control channel (non-blocking).
	for _, live := range e.liveNodes {
		select {
		case live.ControlTx <- (node.ControlMessage{Kind: node.ControlShutdown}):
		default:
		}
	}

	// 4. Wait up to 2s per node, concurrently, abort stragglers with a 1s
	// follow-up.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		for _, live := range e.liveNodes {
			d := live.Done
			g.Go(func() error {
				waitForDone(d, shutdownGraceful, shutdownAbort)
				return nil
			})
		}
		_ = g.Wait()
	}()
	select {
	case <-done:
	case <-time.After(shutdownGraceful + shutdownAbort + time.Second):
	}

	// 5. Zero all state gauges, clear maps.
	e.metrics.ZeroAll(e.nodeStates)
	e.liveNodes = make(map[string]*LiveNode)
	e.nodePinMetadata = make(map[string]PinMetadata)
	e.nodeStates = make(map[string]state.State)
	e.nodeStats = make(map[string]stats.Stats)
	e.pinManagementTxs = make(map[string]chan<- node.PinManagementMessage)
	e.connections = make(map[connKey]ConnectionID)
	e.startedSources = make(map[string]bool)

	for _, ch := range e.stateSubs {
		close(ch)
	}
	for _, ch := range e.statsSubs {
		close(ch)
	}
	for _, ch := range e.telemetrySubs {
		close(ch)
	}
	e.stateSubs, e.statsSubs, e.telemetrySubs = nil, nil, nil

	if msg.Done != nil {
		close(msg.Done)
	}
}

// checkActivation implements the §4.2 activation barrier: once every
// tracked node has reached Ready or Running, every Ready source node (no
// input pins) that has not yet been started receives Start exactly once.
func (e *Engine) checkActivation() {
	if len(e.nodeStates) == 0 {
		return
	}
	for _, s := range e.nodeStates {
		if !s.IsActivatable() {
			return
		}
	}
	for nodeID, s := range e.nodeStates {
		if s.Kind != state.Ready || e.startedSources[nodeID] {
			continue
		}
		meta := e.nodePinMetadata[nodeID]
		if len(meta.Inputs) != 0 {
			continue
		}
		live, ok := e.liveNodes[nodeID]
		if !ok {
			continue
		}
		e.startedSources[nodeID] = true
		trySendControl(live.ControlTx, node.ControlMessage{Kind: node.ControlStart})
	}
}

// handleStateUpdate implements the §4.2 state-ownership rules: races with
// Shutdown/RemoveNode are absorbed by ignoring updates for nodes no longer
// live, and subscribers with a closed channel OR a transiently full channel
// are both dropped (the more aggressive of the two subscriber policies,
// deliberately asymmetric with telemetry — see DESIGN.md).
func (e *Engine) handleStateUpdate(u state.Update) {
	if _, live := e.liveNodes[u.NodeID]; !live {
		return
	}
	prev, hadPrev := e.nodeStates[u.NodeID]
	var prevPtr *state.State
	if hadPrev {
		prevPtr = &prev
	}
	e.nodeStates[u.NodeID] = u.State
	e.metrics.RecordTransition(u.NodeID, prevPtr, u.State)
	e.checkActivation()
	e.stateSubs = fanOutDropOnFull(e.stateSubs, u)
}

func (e *Engine) handleStatsUpdate(u stats.Update) {
	if _, live := e.liveNodes[u.NodeID]; !live {
		return
	}
	e.nodeStats[u.NodeID] = u.Stats
	e.statsSubs = fanOutDropOnFull(e.statsSubs, u)
}

func (e *Engine) handleTelemetryEvent(ev telemetry.Event) {
	e.telemetrySubs = fanOutKeepOnFull(e.telemetrySubs, ev)
}

func (e *Engine) handleQuery(q QueryMessage) {
	switch {
	case q.GetNodeStates != nil:
		snapshot := make(map[string]state.State, len(e.nodeStates))
		for k, v := range e.nodeStates {
			snapshot[k] = v
		}
		q.GetNodeStates.ResponseTx <- snapshot
	case q.GetNodeStats != nil:
		snapshot := make(map[string]stats.Stats, len(e.nodeStats))
		for k, v := range e.nodeStats {
			snapshot[k] = v
		}
		q.GetNodeStats.ResponseTx <- snapshot
	case q.SubscribeState != nil:
		ch := make(chan state.Update, e.cfg.ControlCapacity)
		e.stateSubs = append(e.stateSubs, ch)
		q.SubscribeState.ResponseTx <- ch
	case q.SubscribeStats != nil:
		ch := make(chan stats.Update, e.cfg.ControlCapacity)
		e.statsSubs = append(e.statsSubs, ch)
		q.SubscribeStats.ResponseTx <- ch
	case q.SubscribeTelemetry != nil:
		ch := make(chan telemetry.Event, e.cfg.ControlCapacity)
		e.telemetrySubs = append(e.telemetrySubs, ch)
		q.SubscribeTelemetry.ResponseTx <- ch
	}
}

// fanOutDropOnFull delivers val to every subscriber, removing any subscriber
// whose channel is full OR closed — the state/stats policy.
func fanOutDropOnFull[T any](subs []chan T, val T) []chan T {
	kept := subs[:0]
	for _, ch := range subs {
		if trySendRecover(ch, val) {
			kept = append(kept, ch)
		}
	}
	return kept
}

// fanOutKeepOnFull delivers val to every subscriber, removing a subscriber
// only when its channel is closed; a transiently full channel just drops
// this one event and keeps the subscriber — the telemetry policy.
func fanOutKeepOnFull[T any](subs []chan T, val T) []chan T {
	kept := subs[:0]
	for _, ch := range subs {
		if !trySendClosed(ch, val) {
			kept = append(kept, ch)
		}
	}
	return kept
}

func trySendRecover[T any](ch chan T, val T) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- val:
		return true
	default:
		return false
	}
}

// trySendClosed reports whether ch was closed (send panicked). A full-but-
// open channel returns false with the event silently dropped, never removed.
func trySendClosed[T any](ch chan T, val T) (closedChan bool) {
	defer func() {
		if recover() != nil {
			closedChan = true
		}
	}()
	select {
	case ch <- val:
		return false
	default:
		return false
	}
}
