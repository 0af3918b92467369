/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/barcode"
	"github.com/ssargent/vitalgap/pkg/codec"
	"github.com/ssargent/vitalgap/pkg/config"
)

func newCodec(cfg *config.Config) (*codec.Codec, error) {
	return codec.New(cfg.Tables, cfg.Codec.FormatVersion, cfg.Codec.CompressLevel)
}

// openEngine opens the configured barcode engine, or engine when set.
func openEngine(cfg *config.Config, engine string, logger *zap.Logger) (barcode.Renderer, barcode.Decoder, error) {
	if engine == "" {
		engine = cfg.Pipeline.Engine
	}
	return barcode.Open(engine,
		barcode.ToolConfig{Path: cfg.Pipeline.RendererPath, Timeout: cfg.Pipeline.CommandTimeout, Logger: logger},
		barcode.ToolConfig{Path: cfg.Pipeline.DecoderPath, Timeout: cfg.Pipeline.CommandTimeout, Logger: logger},
	)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes the default Prometheus registry on addr until ctx is
// done. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
