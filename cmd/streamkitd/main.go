// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command streamkitd runs a demo StreamKit dynamic engine: it registers the
// built-in node kinds, wires a small text pipeline (source -> uppercase ->
// recorder), logs node state transitions through the application logger
// (JSON on stderr), and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rapidaai/streamkit/internal/engine/dynamic"
	"github.com/rapidaai/streamkit/internal/nodes/mixer"
	"github.com/rapidaai/streamkit/internal/nodes/opus"
	"github.com/rapidaai/streamkit/internal/nodes/resampler"
	"github.com/rapidaai/streamkit/internal/nodes/script"
	"github.com/rapidaai/streamkit/internal/nodes/textnodes"
	"github.com/rapidaai/streamkit/pkg/commons"
	skconfig "github.com/rapidaai/streamkit/pkg/streamkit/config"
	"github.com/rapidaai/streamkit/pkg/streamkit/node"
)

// demoRecorderLines receives every line the demo pipeline's recorder sees;
// main logs from it so the pipeline's output is visible in the log (stderr).
var demoRecorderLines = make(chan string, 16)

func main() {
	sessionID := flag.String("session-id", "", "session identifier attached to state/telemetry updates")
	logLevel := flag.String("log-level", "", "overrides SK_LOG_LEVEL (debug enables verbose logging)")
	flag.Parse()

	if *logLevel != "" {
		_ = os.Setenv("SK_LOG_LEVEL", *logLevel)
	}

	logger, err := commons.NewApplicationLogger()
	if err != nil {
		log.Fatalf("streamkitd: building logger: %v", err)
	}
	defer logger.Sync()

	registry := buildRegistry(logger)

	cfg := skconfig.New()
	metrics, err := dynamic.NewMetrics(nil)
	if err != nil {
		logger.Fatalf("streamkitd: building metrics: %v", err)
	}

	var sid *string
	if *sessionID != "" {
		sid = sessionID
	}
	engine, handle := dynamic.New(registry, cfg, logger, metrics, sid)
	go engine.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("streamkitd: shutdown signal received")
		cancel()
	}()

	if err := runDemoGraph(ctx, handle, logger); err != nil {
		logger.Fatalf("streamkitd: demo graph: %v", err)
	}

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := handle.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("streamkitd: shutdown did not complete cleanly", "error", err)
	}
	logger.Infow("streamkitd: stopped")
}

// buildRegistry registers every node kind this daemon knows how to build.
// The codec/resampler/script nodes are wired here so go.mod's domain
// dependencies (libopus, goja, the fetch allowlist) have a reachable home
// even in this minimal demo binary.
func buildRegistry(logger commons.Logger) *node.Registry {
	r := node.NewRegistry()
	r.Register("text_source", textnodes.NewSourceFactory())
	r.Register("text_uppercase", textnodes.NewUppercaseFactory())
	r.Register("text_recorder", textnodes.NewRecorderFactory(demoRecorderLines))
	r.Register("mixer", mixer.NewFactory())
	r.Register("opus_decoder", opus.NewDecoderFactory())
	r.Register("opus_encoder", opus.NewEncoderFactory())
	r.Register("resampler", resampler.NewFactory())
	r.Register("script", script.NewFactory(script.GlobalScriptConfig{
		Logger: logger,
		// FetchConcurrency left at zero so the script package's own
		// default-plus-SK_FETCH_CONCURRENCY-env-override logic applies.
	}))
	return r
}

// runDemoGraph wires the S1-shaped pipeline from the scenario catalog: a
// text source emitting a few lines, an uppercase transform, and a recorder
// that logs each line. It demonstrates AddNode/Connect/SubscribeState
// against the live engine rather than exercising any one node in isolation.
func runDemoGraph(ctx context.Context, h *dynamic.Handle, logger commons.Logger) error {
	sourceParams, _ := json.Marshal(textnodes.SourceConfig{
		Lines:      []string{"hello streamkit", "this is a demo pipeline"},
		IntervalMs: 200,
	})

	if err := h.AddNode(ctx, "source", "text_source", sourceParams); err != nil {
		return err
	}
	if err := h.AddNode(ctx, "uppercase", "text_uppercase", nil); err != nil {
		return err
	}
	if err := h.AddNode(ctx, "recorder", "text_recorder", nil); err != nil {
		return err
	}
	if err := h.Connect(ctx, "source", "out", "uppercase", "in", dynamic.Reliable); err != nil {
		return err
	}
	if err := h.Connect(ctx, "uppercase", "out", "recorder", "in", dynamic.Reliable); err != nil {
		return err
	}

	go func() {
		for line := range demoRecorderLines {
			logger.Infow("demo pipeline output", "line", line)
		}
	}()

	states, err := h.SubscribeState(ctx)
	if err != nil {
		return err
	}
	go func() {
		for u := range states {
			logger.Infow("node state transition", "node_id", u.NodeID, "state", u.State.Name(), "reason", u.State.Reason)
		}
	}()

	return nil
}
