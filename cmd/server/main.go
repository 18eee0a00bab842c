package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-myclean/internal/api"
	"github.com/npezzotti/go-myclean/internal/booking"
	"github.com/npezzotti/go-myclean/internal/chat"
	"github.com/npezzotti/go-myclean/internal/config"
	"github.com/npezzotti/go-myclean/internal/database"
	"github.com/npezzotti/go-myclean/internal/fanout"
	"github.com/npezzotti/go-myclean/internal/server"
	"github.com/npezzotti/go-myclean/internal/stats"
	"golang.org/x/time/rate"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath     string
	envFile        string
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

// seedMemoryStore gives the in-memory store a customer, a provider and a
// service so the API is usable without Postgres.
func seedMemoryStore(repo *database.MemRepository) {
	repo.AddUser(database.User{Id: 1, Name: "Demo Customer", Email: "customer@example.com", Role: "CUSTOMER"})
	repo.AddUser(database.User{Id: 2, Name: "Demo Provider", Email: "provider@example.com", Role: "PROVIDER"})
	repo.AddService(database.Service{Id: 1, ProviderId: 2, Name: "Standard Clean", PricePerHour: 4000, IsActive: true})
}

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flag.StringVar(&addr, "addr", "", "server address")
	flag.StringVar(&dsn, "dsn", "", `database connection string, or "memory"`)
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded token signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[myclean] ", log.LstdFlags)

	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		logger.Fatal("load env file:", err)
	}

	cfg, err := config.Load(configPath, config.Overrides{
		ServerAddr:     addr,
		DatabaseDSN:    dsn,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	var repo database.Repository
	if cfg.InMemory() {
		logger.Println("using in-memory store; data is not persisted")
		mem := database.NewMemRepository()
		seedMemoryStore(mem)
		repo = mem
	} else {
		pg, err := database.NewPgRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()

		if cfg.Migrate {
			logger.Println("applying migrations")
			if err := pg.Migrate(); err != nil {
				logger.Fatal("migrate:", err)
			}
		}
		repo = pg
	}

	var broker fanout.Broker
	if cfg.AMQPURL != "" {
		b, err := fanout.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal("amqp:", err)
		}
		logger.Printf("fan-out via exchange %s", cfg.AMQPExchange)
		broker = b
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	channel := chat.NewChannel(repo, cfg.ParticipantCacheTTL, statsUpdater, logger)
	gateway := server.NewGateway(channel, statsUpdater, logger, server.Options{
		EventRate:  rate.Limit(cfg.EventRate),
		EventBurst: cfg.EventBurst,
		Broker:     broker,
	})
	bookings := booking.NewService(repo, gateway, statsUpdater, logger)

	srv := api.NewMyCleanApp(mux, logger, repo, bookings, channel, gateway, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go gateway.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down gateway...")
	if err := gateway.Shutdown(shutDownCtx); err != nil {
		logger.Println("gateway shutdown:", err)
	}

	logger.Println("shutdown complete")
}
