package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// UnixPrefix marks a listen address as a unix socket path.
const UnixPrefix = "unix:"

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
// addr is a TCP host:port or "unix:<path>". ready, when non-nil, receives
// the bound address once listening, with the "unix:" prefix kept.
func Serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger, ready chan<- string) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ln, err := listen(addr)
	if err != nil {
		return err
	}
	bound := ln.Addr().String()
	if ln.Addr().Network() == "unix" {
		bound = UnixPrefix + bound
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", bound).Info("update server listening")
		if ready != nil {
			ready <- bound
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("update server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// listen opens a TCP listener, or a unix socket for a "unix:" address. A
// stale socket left by a previous run is removed first; any other file at
// the path is an error.
func listen(addr string) (net.Listener, error) {
	path, ok := strings.CutPrefix(addr, UnixPrefix)
	if !ok {
		return net.Listen("tcp", addr)
	}
	if path == "" {
		return nil, errors.New("empty unix socket path")
	}
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	return net.Listen("unix", path)
}
