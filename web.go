/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/Seednode/ageguess/internal/game"
	"github.com/Seednode/ageguess/internal/media"
	"github.com/Seednode/ageguess/internal/players"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("ageguess v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// newServer builds the game and its dependencies from cfg.
func newServer(cfg *Config, clock clockwork.Clock, errs chan<- error) (*server, error) {
	catalog, err := media.New(&media.Config{
		Dir:         cfg.mediaDir,
		BirthDate:   cfg.birth,
		CaptureTime: cfg.captureTime,
	})
	if err != nil {
		return nil, err
	}

	registry := players.New()

	engine, err := game.New(&game.Config{
		Picker:            catalog,
		Players:           registry,
		Clock:             clock,
		Logger:            cfg.logger.With().Str("component", "game").Logger(),
		TotalRounds:       cfg.totalRounds,
		TurnDuration:      time.Duration(cfg.turnDurationSeconds) * time.Second,
		ImageTurnDuration: time.Duration(cfg.imageTurnDurationSeconds) * time.Second,
		RevealDuration:    cfg.revealDuration,
		IdleRounds:        cfg.idleRounds,
		BabyName:          cfg.babyName,
		MediaPrefix:       cfg.prefix + game.DefaultMediaPrefix,
	})
	if err != nil {
		return nil, err
	}

	return &server{
		cfg:      cfg,
		catalog:  catalog,
		registry: registry,
		engine:   engine,
		errs:     errs,
	}, nil
}

// newRouter registers every route and wraps the result in CORS handling
// when origins are configured.
func newRouter(s *server) http.Handler {
	cfg := s.cfg

	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		cfg.logger.Error().Interface("panic", i).Str("path", r.URL.Path).Msg("handler panicked")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		_, _ = io.WriteString(w, newPage(cfg, "Server Error", "An error has occurred. Please try again."))
	}

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, s.errs))

	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, s.errs))

	mux.GET(cfg.prefix+"/favicons/*favicon", serveFavicons(cfg, s.errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, s.errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, s.errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, s.errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	registerAPI(s, mux)

	if len(cfg.corsOrigins) == 0 {
		return mux
	}

	logf(cfg, "SERVE: Allowing cross-origin requests from %s", strings.Join(cfg.corsOrigins, ", "))

	return cors.New(cors.Options{
		AllowedOrigins: cfg.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         3600,
	}).Handler(mux)
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: ageguess v%s", releaseVersion)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	errs := make(chan error, 64)
	go drainErrors(ctx, cfg, errs)

	s, err := newServer(cfg, clockwork.NewRealClock(), errs)
	if err != nil {
		return err
	}

	logf(cfg, "START: Serving media from %s (birth date %s)", s.catalog.Dir(), cfg.birth.Format(time.DateOnly))

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           newRouter(s),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		// Video responses can take longer than a request should.
		WriteTimeout: 0,
	}

	failed := make(chan error, 1)

	go func() {
		var err error

		logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)

		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	select {
	case err = <-failed:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	logf(cfg, "STOP: ageguess v%s", releaseVersion)

	return nil
}
