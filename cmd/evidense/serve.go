package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/evidense/internal/api"
	"github.com/banshee-data/evidense/internal/db"
	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/watch"
)

// serveHandler mounts the API for src, plus the archive admin routes when an
// archive is open.
func serveHandler(src api.LogSource, opts api.Options, archive *db.DB) (http.Handler, error) {
	mux := api.NewServer(src, opts).ServeMux()
	if archive != nil {
		if err := archive.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	return api.LoggingMiddleware(mux), nil
}

func (a *app) serve(ctx context.Context, args []string) error {
	flags := newFlagSet("serve", a.stderr)
	listen := flags.String("listen", a.cfg.GetListen(), "Listen address")
	blanks := flags.Int("blanks", a.cfg.GetBlankCount(), "Blanks the run was calibrated from")
	assets := flags.String("assets-host", "", "Host serving the echarts javascript (default: jsdelivr)")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("%w: serve takes the data file", errUnknownArg)
	}

	w, err := watch.New(pos[0])
	if err != nil {
		return err
	}
	defer w.Close()

	archive, err := a.openArchive()
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	opts := api.Options{DataFile: w.Path(), BlankCount: *blanks}
	opts.Charts.AssetsHost = *assets
	h, err := serveHandler(w, opts, archive)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	// reload the log whenever the data file changes
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("watch routine: %v", err)
		}
		monitoring.Debugf("watch routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case n := <-w.Updates():
				monitoring.Logf("reloaded %s: %d record(s)", w.Path(), n)
			case <-ctx.Done():
				return
			}
		}
	}()

	server := &http.Server{
		Addr:              *listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		monitoring.Logf("serving %s on %s", w.Path(), *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case serr := <-serveErr:
		if serr != nil {
			err = fmt.Errorf("http server: %w", serr)
		}
	case <-ctx.Done():
		monitoring.Logf("shutting down HTTP server...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Second)
	defer cancelShutdown()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		monitoring.Logf("HTTP server shutdown error: %v", serr)
		if cerr := server.Close(); cerr != nil {
			monitoring.Logf("HTTP server force close error: %v", cerr)
		}
	}

	cancel()
	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
	return err
}
