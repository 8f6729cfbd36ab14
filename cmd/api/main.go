package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flatfund.org/internal/auth"
	"flatfund.org/internal/directory"
	"flatfund.org/internal/httpapi"
	"flatfund.org/internal/notify"
	"flatfund.org/internal/obs"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FLATFUND_COMMIT"))

	secret := os.Getenv("FLATFUND_AUTH_SECRET")
	if secret == "" {
		log.Fatal("FLATFUND_AUTH_SECRET is not set; refusing to start with unsigned tokens")
	}

	dsn := os.Getenv("FLATFUND_PG_DSN")
	if dsn == "" {
		log.Fatal("FLATFUND_PG_DSN is not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	notifier, err := notify.NewBrevo(
		os.Getenv("FLATFUND_BREVO_API_KEY"),
		envOr("FLATFUND_EMAIL_SENDER_NAME", "FlatFund"),
		os.Getenv("FLATFUND_EMAIL_SENDER"),
	)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	var opts []auth.Option
	if ttl := os.Getenv("FLATFUND_ACCESS_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			log.Fatalf("FLATFUND_ACCESS_TTL: %v", err)
		}
		opts = append(opts, auth.WithAccessTTL(d))
	}

	svc, err := auth.NewService(
		auth.NewPGStore(db),
		directory.NewPGStore(db),
		notifier,
		secret,
		opts...,
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc)

	srv := &http.Server{
		Addr:              envOr("FLATFUND_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting flatfund-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
