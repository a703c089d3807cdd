package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/api"
	"github.com/agrilink-solutions/farm-trace-service/internal/bitable"
	"github.com/agrilink-solutions/farm-trace-service/internal/crypto"
	"github.com/agrilink-solutions/farm-trace-service/internal/farm"
	"github.com/agrilink-solutions/farm-trace-service/internal/format"
	"github.com/agrilink-solutions/farm-trace-service/internal/monitoring"
	"github.com/agrilink-solutions/farm-trace-service/internal/registry"
	"github.com/agrilink-solutions/farm-trace-service/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		addr            = flag.String("addr", ":8080", "Public API listen address")
		opsAddr         = flag.String("ops-addr", ":8081", "Health and metrics listen address")
		redisAddr       = flag.String("redis-addr", "localhost:6379", "Redis address")
		redisPassword   = flag.String("redis-password", "", "Redis password")
		redisDB         = flag.Int("redis-db", 0, "Redis database index")
		baseURL         = flag.String("base-url", "https://base-api.feishu.cn", "Remote table service base URL")
		sysAppToken     = flag.String("sys-app-token", os.Getenv("SYS_APP_TOKEN"), "System base app token")
		sysAccessToken  = flag.String("sys-access-token", os.Getenv("SYS_PERSONAL_BASE_TOKEN"), "System base access token")
		systemTable     = flag.String("system-table", registry.DefaultSystemTable, "System authorization table name")
		refreshInterval = flag.Duration("refresh-interval", 30*time.Minute, "Tenant cache refresh interval")
		requestTimeout  = flag.Duration("request-timeout", 30*time.Second, "Remote request timeout")
	)
	flag.Parse()

	sealKey := os.Getenv("TOKEN_SEAL_KEY")
	if sealKey == "" {
		log.Fatal().Msg("TOKEN_SEAL_KEY is required")
	}
	sealer, err := crypto.NewSealer([]byte(sealKey))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token sealer")
	}

	monitoring.InitMetrics()

	st := store.NewRedis(*redisAddr, *redisPassword, *redisDB, sealer)
	defer st.Close()

	systemClient, err := bitable.NewClient(*baseURL, *sysAppToken, *sysAccessToken, *requestTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("System base credentials missing or invalid")
	}

	factory := func(appToken, accessToken string) (*bitable.Client, error) {
		return bitable.NewClient(*baseURL, appToken, accessToken, *requestTimeout)
	}

	reg := registry.New(st, systemClient, factory)
	reg.SetSystemTable(*systemTable)

	ctx, cancel := context.WithTimeout(context.Background(), *refreshInterval)
	if err := reg.Reload(ctx); err != nil {
		log.Error().Err(err).Msg("Initial tenant load failed, serving once the scheduler recovers")
	}
	cancel()

	scheduler := registry.NewScheduler(reg, *refreshInterval, *refreshInterval)
	scheduler.Start()
	defer scheduler.Stop()

	aggregator := farm.NewAggregator(reg, format.NewFormatter())
	sensors := farm.NewSensorWriter(reg)
	router := api.NewRouter(api.NewServer(aggregator, sensors, reg))

	apiServer := &http.Server{
		Addr:    *addr,
		Handler: router,
	}

	go func() {
		log.Info().Msgf("Starting Farm Trace Service on %s", *addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start API server")
		}
	}()

	go func() {
		health := healthcheck.NewHandler()
		health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(ctx)
		})
		health.AddReadinessCheck("tenant-cache", func() error {
			if !reg.Loaded() {
				return errors.New("tenant cache not loaded yet")
			}
			return nil
		})

		mux := http.NewServeMux()
		mux.HandleFunc("/live", health.LiveEndpoint)
		mux.HandleFunc("/ready", health.ReadyEndpoint)
		mux.Handle("/metrics", promhttp.Handler())

		opsServer := &http.Server{
			Addr:    *opsAddr,
			Handler: mux,
		}

		log.Info().Msgf("HTTP server for health checks and metrics started on %s", *opsAddr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Ops server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	log.Info().Msg("Server exiting")
}
