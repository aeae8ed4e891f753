// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package script implements the §4.6 Script Node: user JavaScript run
// per-packet inside a quota'd goja runtime, with a host-mediated fetch
// allowlist, secret-to-header injection, and a telemetry span API.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/rapidaai/streamkit/pkg/commons"
	"github.com/rapidaai/streamkit/pkg/streamkit/node"
	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
	"github.com/rapidaai/streamkit/pkg/streamkit/state"
	"github.com/rapidaai/streamkit/pkg/streamkit/stats"
	"github.com/rapidaai/streamkit/pkg/streamkit/telemetry"
	"github.com/rapidaai/streamkit/pkg/streamkit/types"
)

// HeaderMapping configures one secret-to-header injection for fetch calls.
type HeaderMapping struct {
	Secret   string `json:"secret"`
	Header   string `json:"header"`
	Template string `json:"template,omitempty"`
}

// Config is one Script Node's per-instance configuration.
type Config struct {
	Script        string          `json:"script,omitempty"`
	ScriptPath    string          `json:"script_path,omitempty"`
	TimeoutMs     int             `json:"timeout_ms,omitempty"`
	MemoryLimitMB int             `json:"memory_limit_mb,omitempty"`
	Headers       []HeaderMapping `json:"headers,omitempty"`
}

// PathValidator resolves and authorizes a script_path before it is read —
// the host-supplied collaborator named in §4.6. A GlobalScriptConfig with a
// nil PathValidator rejects every script_path config.
type PathValidator func(path string) (resolved string, err error)

// GlobalScriptConfig is shared process-wide across every Script Node
// instance: the fetch allowlist, injectable secrets, the concurrency bound
// on in-flight fetches, a PathValidator for script_path, and the logger every
// node's console.* routes to.
type GlobalScriptConfig struct {
	Allowlist          []AllowlistRule
	Secrets            map[string]Secret
	FetchConcurrency   int
	PathValidator      PathValidator
	Logger             commons.Logger
}

// Secret is one named secret value plus the optional URL pattern it may be
// injected into; empty means unscoped.
type Secret struct {
	Value      string
	URLPattern string
}

func (g GlobalScriptConfig) compiledSecrets() map[string]secretSpec {
	out := make(map[string]secretSpec, len(g.Secrets))
	for name, s := range g.Secrets {
		out[name] = secretSpec{value: s.Value, urlPattern: s.URLPattern}
	}
	return out
}

const (
	defaultTimeoutMs     = 100
	defaultMemoryLimitMB = 64
)

// Node runs a user script's process(packet) function once per input
// packet. Every instance owns its own goja.Runtime (goja is not safe for
// concurrent use) but shares its factory's fetchClient and GlobalScriptConfig.
type Node struct {
	node.Base
	cfg    Config
	global GlobalScriptConfig
	fetch  *fetchClient

	vm             *goja.Runtime
	processFn      goja.Callable
	spans          *spanRegistry
	currentEmitter *telemetry.Emitter
}

// NewFactory builds a script node.Factory bound to one shared
// GlobalScriptConfig and fetchClient (constructed once here and reused
// across every node this factory creates).
func NewFactory(global GlobalScriptConfig) node.Factory {
	allowlist := compileAllowlist(global.Allowlist, global.Logger)
	fetch := newFetchClient(allowlist, global.compiledSecrets(), global.FetchConcurrency)

	return func(params json.RawMessage) (node.Node, error) {
		cfg := Config{TimeoutMs: defaultTimeoutMs, MemoryLimitMB: defaultMemoryLimitMB}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, skerrors.Configuration("script: invalid params: %v", err)
			}
		}
		if (cfg.Script == "") == (cfg.ScriptPath == "") {
			return nil, skerrors.Configuration("script: exactly one of script or script_path must be set")
		}
		if cfg.TimeoutMs <= 0 {
			cfg.TimeoutMs = defaultTimeoutMs
		}
		if cfg.MemoryLimitMB <= 0 {
			cfg.MemoryLimitMB = defaultMemoryLimitMB
		}

		source := cfg.Script
		if cfg.ScriptPath != "" {
			if global.PathValidator == nil {
				return nil, skerrors.Configuration("script: script_path set but no path validator configured")
			}
			resolved, err := global.PathValidator(cfg.ScriptPath)
			if err != nil {
				return nil, skerrors.Configuration("script: script_path rejected: %v", err)
			}
			body, err := readScriptFile(resolved)
			if err != nil {
				return nil, skerrors.Configuration("script: reading script_path: %v", err)
			}
			source = body
		}
		for _, hm := range cfg.Headers {
			if _, ok := global.Secrets[hm.Secret]; !ok {
				return nil, skerrors.Configuration("script: headers reference unknown secret %q", hm.Secret)
			}
		}

		n := &Node{cfg: cfg, global: global, fetch: fetch, spans: newSpanRegistry()}
		if err := n.compile(source); err != nil {
			return nil, skerrors.Configuration("script: %v", err)
		}
		return n, nil
	}
}

func (*Node) InputPins() []types.InputPin {
	return []types.InputPin{{Name: "in", AcceptsTypes: []types.PacketType{types.Any()}, Cardinality: types.One()}}
}

func (*Node) OutputPins() []types.OutputPin {
	return []types.OutputPin{{Name: "out", ProducesType: types.Passthrough(), Cardinality: types.Broadcast()}}
}

// compile sets up the goja runtime, installs the host globals, evaluates
// the script body, and resolves the exported process function. Any failure
// here is a script validation failure per §4.6's "emit Failed and exit".
func (n *Node) compile(source string) error {
	vm := goja.New()
	n.installGlobals(vm)

	if _, err := vm.RunString(source); err != nil {
		return fmt.Errorf("evaluating script: %w", err)
	}

	processVal := vm.Get("process")
	if processVal == nil || goja.IsUndefined(processVal) {
		return fmt.Errorf("script does not define process(packet)")
	}
	fn, ok := goja.AssertFunction(processVal)
	if !ok {
		return fmt.Errorf("process is not a function")
	}

	n.vm = vm
	n.processFn = fn
	return nil
}

func (n *Node) installGlobals(vm *goja.Runtime) {
	logger := n.global.Logger

	console := map[string]interface{}{
		"log":   func(args ...interface{}) { logConsole(logger, "debug", args) },
		"warn":  func(args ...interface{}) { logConsole(logger, "warn", args) },
		"error": func(args ...interface{}) { logConsole(logger, "error", args) },
	}
	_ = vm.Set("console", console)

	_ = vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		return n.jsFetch(vm, call)
	})

	telemetryObj := map[string]interface{}{
		"emit": func(eventType string, data map[string]interface{}) {
			n.currentEmitter.Emit(eventType, toJSONData(data))
		},
		"startSpan": func(eventType string, data map[string]interface{}) string {
			return n.spans.startSpan(n.currentEmitter, eventType, data)
		},
		"endSpan": func(spanID string, data map[string]interface{}) bool {
			_, ok := n.spans.endSpan(n.currentEmitter, spanID, data)
			if !ok {
				logger.Warnw("endSpan: unknown span_id", "span_id", spanID)
			}
			return ok
		},
	}
	_ = vm.Set("telemetry", telemetryObj)
}

func (n *Node) jsFetch(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		panic(vm.NewTypeError("fetch: missing url"))
	}
	url := call.Arguments[0].String()
	req := fetchRequest{Method: "GET"}
	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) {
		opts := call.Arguments[1].Export()
		if m, ok := opts.(map[string]interface{}); ok {
			if method, ok := m["method"].(string); ok {
				req.Method = method
			}
			if body, ok := m["body"].(string); ok {
				req.Body = body
			}
			if headers, ok := m["headers"].(map[string]interface{}); ok {
				req.Headers = make(map[string]string, len(headers))
				for k, v := range headers {
					req.Headers[k] = fmt.Sprintf("%v", v)
				}
			}
		}
	}

	resp, err := n.fetch.do(context.Background(), n.cfg.Headers, req, url)
	if err != nil {
		panic(vm.ToValue(err.Error()))
	}
	return vm.ToValue(map[string]interface{}{
		"status":  resp.Status,
		"headers": resp.Headers,
		"body":    resp.Body,
	})
}

func logConsole(logger commons.Logger, level string, args []interface{}) {
	if logger == nil {
		return
	}
	switch level {
	case "warn":
		logger.Warnw("script console.warn", "args", args)
	case "error":
		logger.Errorw("script console.error", "args", args)
	default:
		logger.Debugw("script console.log", "args", args)
	}
}

// Run is the §4.4 entry point: Initializing -> (Failed, already handled at
// compile time in NewFactory) -> Running, then one process() invocation per
// input packet until the input closes or shutdown is requested.
func (n *Node) Run(ctx *node.Context) error {
	ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.New(state.Running)}

	in := ctx.Inputs["in"]
	tracker := stats.NewTracker(1, time.Second)
	sessionID := ctx.SessionID

	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "input_closed")}
				return nil
			}
			tracker.RecordReceived()
			n.currentEmitter = telemetry.NewEmitter(ctx.NodeID, sessionID, ctx.TelemetryTx)

			out, err := n.process(pkt)
			switch {
			case err != nil:
				tracker.RecordErrored()
				if logger := n.global.Logger; logger != nil {
					logger.Warnw("script process() failed, passing packet through", "node_id", ctx.NodeID, "error", err)
				}
				out = &pkt
			case out == nil:
				tracker.RecordDiscarded()
			}
			if out != nil {
				if sendErr := ctx.Output.Send("out", *out); sendErr != nil {
					ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "output_closed")}
					return nil
				}
				tracker.RecordSent()
			}
			if tracker.ShouldEmit() && ctx.StatsTx != nil {
				select {
				case ctx.StatsTx <- stats.Update{NodeID: ctx.NodeID, Stats: tracker.Snapshot()}:
				default:
				}
			}
		case msg := <-ctx.Control:
			if msg.Kind == node.ControlShutdown {
				ctx.StateTx <- state.Update{NodeID: ctx.NodeID, State: state.NewWithReason(state.Stopped, "shutdown")}
				return nil
			}
		}
	}
}

// process marshals pkt to a JS object, invokes process(packet) with a
// timeout, awaits a returned Promise if any, and unmarshals the result. A
// nil, nil return means "drop"; a non-nil error means the original packet
// should pass through unchanged (counted as errored by the caller).
// Note: goja.Runtime is not safe for concurrent use. On timeout this
// abandons the in-flight goroutine rather than the runtime itself — if the
// script is truly hung (not just slow), the next packet's call will race
// with it. §4.6's own runtime (a single-threaded embedded engine) has no
// such hazard; this is the cost of mapping "abandon and move on" onto a
// goroutine-based host, accepted because per-packet scripts are expected to
// be short and deterministic, and a hang here already indicates a script bug.
func (n *Node) process(pkt types.Packet) (*types.Packet, error) {
	jsObj := packetToJS(pkt)

	done := make(chan struct{})
	var result goja.Value
	var callErr error
	go func() {
		defer close(done)
		result, callErr = n.processFn(goja.Undefined(), n.vm.ToValue(jsObj))
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(n.cfg.TimeoutMs) * time.Millisecond):
		return nil, skerrors.Recoverable("script: process() timed out after %dms", n.cfg.TimeoutMs)
	}
	if callErr != nil {
		return nil, skerrors.Recoverable("script: process() threw: %v", callErr)
	}

	if result == nil {
		return nil, nil
	}

	if p, ok := result.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			result = p.Result()
		case goja.PromiseStateRejected:
			return nil, skerrors.Recoverable("script: process() promise rejected: %v", p.Result())
		default:
			return nil, skerrors.Recoverable("script: process() promise never settled synchronously")
		}
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}

	out, err := jsToPacket(pkt, result.Export())
	if err != nil {
		return nil, skerrors.Recoverable("script: unmarshaling process() result: %v", err)
	}
	return &out, nil
}
