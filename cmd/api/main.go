package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wardkey.org/internal/activity"
	"wardkey.org/internal/grant"
	"wardkey.org/internal/httpapi"
	"wardkey.org/internal/obs"
	"wardkey.org/internal/risk"
	pgstore "wardkey.org/internal/store/pg"
	"wardkey.org/internal/violation"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		grantStore     grant.Store
		violationStore violation.Store
		probe          httpapi.ReadyProbe
		pg             *pgstore.Store
	)
	if dsn := os.Getenv("WARDKEY_PG_DSN"); dsn != "" {
		var err error
		pg, err = pgstore.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		grantStore = pg.Grants()
		violationStore = pg.Violations()
		probe = httpapi.ReadyProbe{DB: pg.DB()}
	} else {
		log.Println("WARDKEY_PG_DSN not set, using in-memory stores")
		grantStore = grant.NewInMemory()
		violationStore = violation.NewInMemory()
	}

	grants := grant.NewService(grantStore)
	violations := violation.NewDetector(violationStore)

	activityLog := activity.NewInMemory()
	scorerOpts := []risk.Option{}
	if mlURL := os.Getenv("WARDKEY_ML_URL"); mlURL != "" {
		scorerOpts = append(scorerOpts, risk.WithPredictor(risk.NewPredictor(mlURL)))
	}
	scorer := risk.NewScorer(activityLog, scorerOpts...)

	api := httpapi.New(grants, violations, scorer, probe, version)

	// Background jobs (sweeper, rate-limit janitor) stop on shutdown.
	jobCtx, stopJobs := context.WithCancel(context.Background())

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.RateLimit(
						jobCtx,
						httpapi.MaxBodyBytes(api.Handler(), 1<<20),
						40, 20,
					),
				),
			),
		),
	)

	addr := os.Getenv("WARDKEY_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepInterval := time.Minute
	if raw := os.Getenv("WARDKEY_SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse WARDKEY_SWEEP_INTERVAL: %v", err)
		}
		sweepInterval = d
	}
	go grant.NewSweeper(grants, sweepInterval).Run(jobCtx)

	log.Printf("Starting wardkey-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	stopJobs()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pg != nil {
		_ = pg.Close()
	}
	log.Println("Stopped")
}
