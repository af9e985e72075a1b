package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	contestController "codejudge/internal/contest/controller"
	contestRepo "codejudge/internal/contest/repository"
	contestService "codejudge/internal/contest/service"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/executor"
	"codejudge/internal/judge/poller"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/verdict"
	problemRepo "codejudge/internal/problem/repository"
	submitRepo "codejudge/internal/submit/repository"
	userRepo "codejudge/internal/user/repository"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/judge_api.yaml"
	readinessTimeout  = 2 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", ".env", "Optional env file with secrets")
	flag.Parse()

	if err := loadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var events *service.VerdictPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.KafkaConfig)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		events = service.NewVerdictPublisher(producer, appCfg.Kafka.VerdictTopic)
	}

	var archive *service.SourceArchive
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO.MinIOConfig)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		bucketCtx, cancelBucket := context.WithTimeout(context.Background(), appCfg.Judge.Timeouts.Storage)
		err = objStorage.EnsureBucket(bucketCtx, appCfg.MinIO.Bucket)
		cancelBucket()
		if err != nil {
			logger.Error(context.Background(), "check source bucket failed", zap.Error(err))
			return
		}
		archive, err = service.NewSourceArchive(objStorage, appCfg.MinIO.Bucket, appCfg.MinIO.SourcePrefix)
		if err != nil {
			logger.Error(context.Background(), "init source archive failed", zap.Error(err))
			return
		}
		defer archive.Close()
	}

	execClient, err := executor.NewClient(appCfg.Executor, nil)
	if err != nil {
		logger.Error(context.Background(), "init executor client failed", zap.Error(err))
		return
	}
	resultPoller, err := poller.New(execClient, appCfg.Poll)
	if err != nil {
		logger.Error(context.Background(), "init poller failed", zap.Error(err))
		return
	}

	contests, err := contestService.NewContestService(contestService.Config{
		Repo:         contestRepo.NewContestRepository(mysqlDB, redisCache),
		Cache:        redisCache,
		LockTTL:      appCfg.Contest.LockTTL,
		LockWait:     appCfg.Contest.LockWait,
		LockAttempts: appCfg.Contest.LockAttempts,
		CASAttempts:  appCfg.Contest.CASAttempts,
		DBTimeout:    appCfg.Judge.Timeouts.DB,
	})
	if err != nil {
		logger.Error(context.Background(), "init contest service failed", zap.Error(err))
		return
	}

	reconciler, err := service.NewReconciler(userRepo.NewSolvedRepository(mysqlDB, redisCache), contests)
	if err != nil {
		logger.Error(context.Background(), "init reconciler failed", zap.Error(err))
		return
	}

	emptyPolicy, _ := verdict.ParseEmptyPolicy(appCfg.Judge.EmptyPolicy)
	judgeService, err := service.NewService(service.Config{
		Submissions:   submitRepo.NewSubmissionRepositoryWithTTL(mysqlDB, redisCache, appCfg.Judge.SubmissionCacheTTL, appCfg.Judge.SubmissionEmptyTTL),
		TestCases:     problemRepo.NewTestCaseRepositoryWithTTL(mysqlDB, redisCache, appCfg.Judge.TestCaseCacheTTL, appCfg.Judge.TestCaseEmptyTTL),
		Executor:      execClient,
		Poller:        resultPoller,
		Reconciler:    reconciler,
		Contests:      contests,
		Cache:         redisCache,
		Archive:       archive,
		Events:        events,
		OffloadSource: appCfg.Judge.OffloadSource,
		EmptyPolicy:   emptyPolicy,
		MaxCodeBytes:  appCfg.Judge.MaxCodeBytes,
		MaxInFlight:   appCfg.Judge.MaxInFlight,
		SlotWait:      appCfg.Judge.SlotWait,
		RateLimit:     appCfg.Judge.RateLimit,
		Timeouts:      appCfg.Judge.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	auth, err := commonmw.NewAuthenticator(commonmw.AuthConfig{
		Secret:    appCfg.Auth.JWTSecret,
		Issuer:    appCfg.Auth.JWTIssuer,
		Blocklist: redisCache,
		Timeout:   appCfg.Auth.Timeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init authenticator failed", zap.Error(err))
		return
	}

	serverCfg := appCfg.Server
	serverCfg.WriteTimeout = writeTimeout(serverCfg.WriteTimeout, resultPoller.Bound())
	deps := []dependency{
		{name: "mysql", ping: mysqlDB.Ping},
		{name: "redis", ping: redisCache.Ping},
	}
	httpServer := buildHTTPServer(serverCfg, auth, judgeService, contests, deps)
	listener, err := net.Listen("tcp", serverCfg.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started",
			zap.String("addr", serverCfg.Addr),
			zap.Duration("write_timeout", serverCfg.WriteTimeout),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	// In-flight submissions keep judging detached from their requests; give them the poll bound to finish.
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout+resultPoller.Bound())
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, auth *commonmw.Authenticator, judge controller.JudgeService, contests contestController.ContestService, deps []dependency) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceMiddleware(commonmw.TraceConfig{EchoUserID: true}))
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/readyz", readyHandler(deps, readinessTimeout))

	api := router.Group("/api/v1", commonmw.AuthMiddleware(auth))
	judgeController := controller.NewJudgeController(judge)
	contestHandlers := contestController.NewContestController(contests)

	api.POST("/problems/:id/submit", judgeController.Submit)
	api.POST("/problems/:id/run", judgeController.Run)
	api.GET("/submissions/:id", judgeController.GetSubmission)

	api.GET("/contests/:id", contestHandlers.Get)
	api.POST("/contests/:id/enter", contestHandlers.Enter)
	api.GET("/contests/:id/solved-problems", contestHandlers.SolvedProblems)
	api.POST("/contests/:id/problems/:problemId/submit", judgeController.ContestSubmit)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// dependency is a backing service the API cannot serve without.
type dependency struct {
	name string
	ping func(ctx context.Context) error
}

func readyHandler(deps []dependency, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		for _, dep := range deps {
			if err := dep.ping(ctx); err != nil {
				response.Error(c, appErr.Wrapf(err, appErr.ServiceUnavailable, "%s unavailable", dep.name))
				return
			}
		}
		response.Success(c, gin.H{"ready": true})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
