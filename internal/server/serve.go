package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
)

// Serve listens on addr until ctx ends or the process is signalled. With a
// positive interval it also syncs in the background.
func Serve(ctx context.Context, srv *Server, addr string, interval time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group
	g.Add(func() error {
		slog.Info("server listening", "url", "http://"+ln.Addr().String())
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	})

	if interval > 0 {
		syncCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return srv.syncEvery(syncCtx, interval)
		}, func(error) {
			cancel()
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// syncEvery runs a sync on every tick until ctx ends. Failed syncs are
// logged and retried on the next tick.
func (s *Server) syncEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.syncer.SyncAll(ctx); err != nil {
				slog.WarnContext(ctx, "background sync failed", "error", err)
				continue
			}
			s.favicons.Purge()
		}
	}
}
