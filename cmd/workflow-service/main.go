// Command workflow-service is the composition root for the eligibility
// workflow engine. It is grounded on cli/root.go's runServer: load
// configuration from flags/env/file via viper, construct every
// collaborator explicitly, wire them into the engine and worker pool, then
// serve HTTP until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/api"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/authn"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/common"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/config"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/engine"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/executor"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/queue"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/storage"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/worker"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "workflow-service",
	Short: "Serve the social-assistance eligibility workflow API",
	Run:   runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./workflow-service.yaml)")
	rootCmd.PersistentFlags().String("listen-address", "", "HTTP listen address")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection URL")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis connection URL")
	rootCmd.PersistentFlags().String("jwt-secret", "", "JWT signing secret")

	viper.BindPFlag("listen_address", rootCmd.PersistentFlags().Lookup("listen-address"))
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("redis_url", rootCmd.PersistentFlags().Lookup("redis-url"))
	viper.BindPFlag("jwt_secret", rootCmd.PersistentFlags().Lookup("jwt-secret"))
}

func initConfig() {
	for key, value := range config.Defaults() {
		viper.SetDefault(key, value)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("workflow-service")
	}

	viper.SetEnvPrefix("ELIGIBILITY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func runServer(cmd *cobra.Command, args []string) {
	cfg := config.Load(viper.GetViper())
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := common.NewLogger(common.LoggerConfig{Level: common.LogLevel(cfg.LogLevel), Format: cfg.LogFormat})
	entry := common.ServiceEntry(logger, common.LoggerConfig{Service: "workflow-service"})
	entry.Infof("starting with jwt_secret=%s database_url=%s", common.MaskSecret(cfg.JWTSecret), common.MaskSecret(cfg.DatabaseURL))

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()
	appStore := store.NewPostgresStore(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		entry.WithError(err).Fatal("invalid redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	jobQueue := queue.NewRedisQueue(redisClient, "")
	leases := store.NewRedisLeaseManager(redisClient)

	docStorage, err := storage.NewS3DocumentStorage(ctx, storage.DocumentStorageConfig{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		PathStyle: cfg.S3Endpoint != "",
	})
	if err != nil {
		entry.WithError(err).Fatal("failed to construct document storage")
	}

	ocrUpstream := &executor.HTTPOCRUpstream{HTTPUpstream: executor.NewHTTPUpstream(cfg.OCRUpstream)}
	extractUpstream := &executor.HTTPMultimodalUpstream{HTTPUpstream: executor.NewHTTPUpstream(cfg.ExtractUpstream)}
	decisionUpstream := &executor.HTTPDecisionUpstream{HTTPUpstream: executor.NewHTTPUpstream(cfg.DecisionUpstream)}

	policy := executor.DefaultPolicy()
	if cfg.IncomeThreshold > 0 {
		policy.IncomeThreshold = cfg.IncomeThreshold
	}
	if cfg.BalanceThreshold > 0 {
		policy.BalanceThreshold = cfg.BalanceThreshold
	}
	if cfg.ConfidenceMin > 0 {
		policy.ConfidenceMin = cfg.ConfidenceMin
	}
	if cfg.AutoApproveMin > 0 {
		policy.AutoApproveMin = cfg.AutoApproveMin
	}

	eng := engine.New(engine.Deps{
		Store:      appStore,
		Queue:      jobQueue,
		Leases:     leases,
		Storage:    docStorage,
		OCR:        executor.NewOCRExecutor(ocrUpstream, cfg.OCRTimeout),
		Extraction: executor.NewExtractionExecutor(extractUpstream, cfg.ExtractTimeout),
		Decision:   executor.NewDecisionExecutor(decisionUpstream, policy, cfg.DecisionTimeout),
		Logger:     entry,
		Config:     engine.Config{LeaseTTL: cfg.LeaseTTL, MaxAttempts: cfg.MaxAttempts},
	})

	workerConfig := worker.DefaultConfig()
	if cfg.WorkerConcurrency > 0 {
		workerConfig = worker.Config{Concurrency: map[queue.Stage]int{
			queue.StageOCR:     cfg.WorkerConcurrency,
			queue.StageExtract: cfg.WorkerConcurrency,
			queue.StageDecide:  1,
		}}
	}
	workerPool := worker.NewPool(jobQueue, eng, workerConfig, entry)
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workerPool.Start(workerCtx)
	defer workerPool.Stop()

	authenticator := authn.NewJWTAuthenticator(cfg.JWTSecret)
	devIssuer := authn.NewDevIssuer(authenticator, 24*time.Hour)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	estimatedSeconds := int((cfg.OCRTimeout + cfg.ExtractTimeout + cfg.DecisionTimeout).Seconds())
	handlers := &api.Handlers{
		Engine:               eng,
		Store:                appStore,
		Authenticator:        authenticator,
		DevIssuer:            devIssuer,
		MaxFileBytes:         cfg.MaxFileSizeByte,
		EstimateStageSeconds: estimatedSeconds,
	}
	api.SetupRoutes(e, handlers, echo.WrapHandler(promhttp.Handler()))

	go func() {
		entry.Infof("server starting on %s", cfg.ListenAddress)
		if err := e.Start(cfg.ListenAddress); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	entry.Info("shutting down server")

	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Fatal("graceful shutdown failed")
	}
}
