package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/prabin-acharya/atlas-map/pkg/api"
	"github.com/prabin-acharya/atlas-map/pkg/relay"
	"github.com/prabin-acharya/atlas-map/pkg/storage"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mainInner() error {
	addrVar := flag.String("addr", envOr("ATLAS_ADDR", "localhost:8080"), "the address to listen on")
	dbVar := flag.String("db", envOr("DATABASE_URL", "atlas.sqlite3"), "sqlite path or postgres url")
	driverVar := flag.String("driver", "", "storage driver, sqlite3 or postgres (guessed from -db when empty)")
	redisVar := flag.String("redis", os.Getenv("REDIS_ADDR"), "redis address for fan-out across relay processes")
	debugVar := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debugVar {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := *driverVar
	if driver == "" {
		driver = storage.DriverFor(*dbVar)
	}
	slog.Info("Opening database", "driver", driver)
	repo, err := storage.Open(ctx, driver, *dbVar, slog.Default())
	if err != nil {
		return err
	}
	defer repo.Close()

	relayCfg := relay.Config{}
	if *redisVar != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisVar})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", *redisVar, err)
		}
		defer rdb.Close()
		relayCfg.Redis = rdb
		slog.Info("Relaying through redis", "addr", *redisVar)
	}
	rs := relay.New(relayCfg)

	r := mux.NewRouter()
	r.Use(api.LogRequests(slog.Default()))
	api.New(repo, slog.Default()).Register(r)
	r.Handle("/sessions/{"+relay.SessionVar+"}/ws", rs)

	httpServer := &http.Server{Addr: *addrVar, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(exit)
		select {
		case sig := <-exit:
			slog.Info("Signal caught", "sig", sig)
		case <-gctx.Done():
		}
		rs.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
