package cli

import (
	"context"
	"net/http"
	"time"

	"brainctl/internal/httpapi"
)

// runServe brings the fleet up and then serves the control API until the
// process is interrupted. In-flight warm-ups keep running behind the server;
// their outcome shows up in /status and /readyz rather than the exit code.
func runServe(cfg *Config, addr string, cors bool) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = a.store.Addr
	}

	httpapi.SetLogger(a.log)
	httpapi.SetBaseContext(ctx)
	if cors {
		httpapi.SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	}

	rep, err := a.orch.Up(ctx)
	if err != nil {
		return err
	}
	printReport(rep)
	if err := rep.FirstError(); err != nil {
		return err
	}

	srv := &http.Server{Addr: addr, Handler: httpapi.NewMux(a.orch)}
	go func() {
		a.log.Info().Str("addr", addr).Msg("control API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	<-ctx.Done()
	sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	_ = a.orch.WaitWarmups(sdCtx)
	return nil
}
