package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/minibet/payment-gateway/internal/config"
	"github.com/minibet/payment-gateway/internal/gateways"
	"github.com/minibet/payment-gateway/internal/handlers"
	"github.com/minibet/payment-gateway/internal/repository"
	"github.com/minibet/payment-gateway/internal/services"
	xhttp "github.com/minibet/payment-gateway/pkg/http"
	"github.com/minibet/payment-gateway/pkg/logger"
	"github.com/minibet/payment-gateway/pkg/pg"
	"github.com/minibet/payment-gateway/pkg/prom"
	"github.com/minibet/payment-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 15))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	airtelClient, err := gateway.NewClient(&gateway.Config{
		BaseURL:      config.Get().AirtelBaseURL,
		ClientID:     config.Get().AirtelClientID,
		ClientSecret: config.Get().AirtelClientSecret,
		Country:      config.Get().AirtelCountry,
		Currency:     config.Get().AirtelCurrency,
		DisbursePIN:  config.Get().AirtelDisbursePIN,
		CallbackURL:  config.Get().AirtelCallbackURL,
		Timeout:      config.Get().AirtelRequestTimeout,
	})
	if err != nil {
		logger.Error("failed creating airtel client", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	userRepo := repository.NewUserRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)

	// services
	dedup := services.NewCallbackDedupService(redisAdap, services.DefaultDedupConfig())
	transactionService := services.NewTransactionService(
		transactionRepo,
		userRepo,
		airtelClient,
		dedup,
		config.Get().AirtelCountry,
		config.Get().AirtelCurrency,
	)
	userService := services.NewUserService(userRepo)
	healthService := services.NewHealthService(db)

	// v1 handlers
	transactionHandler := handlers.NewTransactionHandler(transactionService)
	airtelHandler := handlers.NewAirtelHandler(transactionService)
	userHandler := handlers.NewUserHandler(userService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterTransactionRoutes(g, transactionHandler)
	handlers.RegisterAirtelRoutes(g, airtelHandler)
	handlers.RegisterUserRoutes(g, userHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
