package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	solacelive "github.com/SolaceHarmony/SolaceLive-sub001"
	"github.com/SolaceHarmony/SolaceLive-sub001/stream"
	"github.com/SolaceHarmony/SolaceLive-sub001/transport"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// serveCmd runs the WebSocket bridge: each peer that connects gets its
// own conversation pipeline, and a diagnostics listener exposes
// Prometheus metrics plus per-conversation counters.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Bridge WebSocket peers into the packet pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// bridge tracks the live conversations keyed by conversation ID.
type bridge struct {
	mu    sync.Mutex
	conns map[string]*solacelive.Conversation
}

func runServe(ctx context.Context) error {
	b := &bridge{conns: make(map[string]*solacelive.Conversation)}

	wsRouter := chi.NewRouter()
	wsRouter.Use(middleware.Recoverer)
	wsRouter.Get(cfg.Serve.WSPath, b.handleWS)

	diagRouter := chi.NewRouter()
	diagRouter.Use(middleware.Recoverer)
	diagRouter.Handle("/metrics", promhttp.Handler())
	diagRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	diagRouter.Get("/statsz", b.handleStats)

	wsServer := &http.Server{Addr: cfg.Serve.Listen, Handler: wsRouter}
	diagServer := &http.Server{Addr: cfg.Serve.MetricsListen, Handler: diagRouter}

	errs := make(chan error, 2)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "runServe",
			"listen":   cfg.Serve.Listen,
			"path":     cfg.Serve.WSPath,
		}).Info("WebSocket bridge listening")
		errs <- wsServer.ListenAndServe()
	}()
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "runServe",
			"listen":   cfg.Serve.MetricsListen,
		}).Info("Diagnostics listening")
		errs <- diagServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logrus.WithFields(logrus.Fields{
			"function": "runServe",
			"signal":   sig.String(),
		}).Info("Shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = wsServer.Shutdown(shutdownCtx)
	_ = diagServer.Shutdown(shutdownCtx)
	b.killAll()
	return nil
}

// handleWS upgrades the request and wires a conversation to it. The
// bridge side speaks as the AI stream; the connecting peer is the user.
func (b *bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := transport.AcceptWS(w, r)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleWS",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}

	opts := solacelive.NewOptions()
	opts.Transport = ws
	opts.LocalStream = wire.StreamAI
	opts.Processor.DispatchIntervalMs = cfg.Pipeline.DispatchIntervalMs
	opts.Processor.DefaultTTLMs = cfg.Pipeline.DefaultTTLMs
	opts.Processor.Jitter.TargetDelayMs = cfg.Pipeline.JitterDelayMs
	opts.Processor.Jitter.MinDelayMs = cfg.Pipeline.JitterMinDelayMs
	opts.Processor.Jitter.MaxDelayMs = cfg.Pipeline.JitterMaxDelayMs
	opts.Processor.Jitter.Adaptive = cfg.Pipeline.JitterAdaptive

	conv, err := solacelive.New(opts)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleWS",
			"error":    err.Error(),
		}).Error("Failed to create conversation")
		_ = ws.Close()
		return
	}

	conv.On(stream.EventUserText, func(e stream.Event) {
		if text, ok := e.Packet.Payload.(*wire.TextPayload); ok {
			logrus.WithFields(logrus.Fields{
				"conversation": conv.ID(),
				"text":         text.Text,
				"final":        text.Final,
			}).Info("Transcript received")
		}
	})
	conv.On(stream.EventError, func(e stream.Event) {
		logrus.WithFields(logrus.Fields{
			"conversation": conv.ID(),
			"error":        e.Err.Error(),
		}).Warn("Pipeline error")
	})
	conv.OnInterruption(func(result stream.OverlapResult) {
		logrus.WithFields(logrus.Fields{
			"conversation": conv.ID(),
			"overlap_ms":   result.OverlapDuration.Milliseconds(),
		}).Info("Barge-in detected")
	})

	if err := conv.Start(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleWS",
			"error":    err.Error(),
		}).Error("Failed to start conversation")
		conv.Kill()
		_ = ws.Close()
		return
	}

	b.mu.Lock()
	b.conns[conv.ID()] = conv
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "handleWS",
		"conversation": conv.ID(),
		"remote":       r.RemoteAddr,
	}).Info("Peer connected")
}

// handleStats serializes every live conversation's pipeline counters.
func (b *bridge) handleStats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	snapshot := make(map[string]stream.ProcessorStats, len(b.conns))
	for id, conv := range b.conns {
		snapshot[id] = conv.Stats()
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleStats",
			"error":    err.Error(),
		}).Warn("Failed to encode stats")
	}
}

func (b *bridge) killAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, conv := range b.conns {
		conv.Kill()
		_ = conv.Transport().Close()
		delete(b.conns, id)
	}
}
