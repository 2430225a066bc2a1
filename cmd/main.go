package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harsh18999/permit-extract/api"
	"github.com/Harsh18999/permit-extract/api/handler"
	"github.com/Harsh18999/permit-extract/api/middleware"
	appconfig "github.com/Harsh18999/permit-extract/config"
	"github.com/Harsh18999/permit-extract/internal/cache"
	"github.com/Harsh18999/permit-extract/internal/database"
	"github.com/Harsh18999/permit-extract/internal/ocr"
	"github.com/Harsh18999/permit-extract/internal/repository"
	"github.com/Harsh18999/permit-extract/internal/services"
	"github.com/Harsh18999/permit-extract/pkg/storage"
	"github.com/Harsh18999/permit-extract/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// 命令行配置选项
type flags struct {
	Mode         string        // 运行模式 (debug/release)
	LogLevel     string        // 日志级别
	ConfigFile   string        // 配置文件路径
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	Worker       bool          // 是否作为任务队列工作者运行
}

func main() {
	// 加载.env文件(如果存在)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env")
	}

	// 解析命令行参数
	f := parseFlags()

	// 加载配置文件
	cfg, err := appconfig.Load(f.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置Gin模式
	gin.SetMode(f.Mode)

	// 初始化日志
	logger := setupLogger(f.LogLevel)
	logger.Info("Starting permit table extraction service...")

	// 初始化数据库
	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// 创建文件存储服务
	fileStorage, err := setupStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// 创建表格识别客户端
	tableClient, err := setupTableClient(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize table extraction client: %v", err)
	}

	// 创建缓存服务
	cacheService, err := setupCache(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	// 初始化任务队列(如果启用)
	var queue taskqueue.Queue
	if cfg.Queue.Enable {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		logger.Info("Task queue initialized successfully")
	}

	// 初始化业务服务
	var repo repository.DocumentRepository
	if queue != nil {
		// 如果启用了任务队列，使用带队列的仓储
		repo = repository.NewDocumentRepositoryWithQueue(database.MustDB(), queue)
		logger.Info("Using document repository with task queue")
	} else {
		repo = repository.NewDocumentRepository()
	}

	statusManager := services.NewDocumentStatusManager(repo, logger)

	// 创建提取服务，根据是否启用队列进行配置
	serviceOptions := []services.ExtractionOption{
		services.WithDocumentRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithCache(cacheService),
		services.WithTimeout(cfg.OCR.Timeout),
		services.WithLogger(logger),
	}

	if queue != nil {
		serviceOptions = append(serviceOptions,
			services.WithTaskQueue(queue),
			services.WithAsyncProcessing(true),
		)
		logger.Info("Document processing will use async task queue")
	}

	extractionService := services.NewExtractionService(
		fileStorage,
		tableClient,
		serviceOptions...,
	)

	if err := extractionService.Init(); err != nil {
		logger.Fatalf("Failed to initialize extraction service: %v", err)
	}

	// 工作者模式：只消费任务队列，不启动HTTP服务
	if f.Worker {
		runWorker(cfg, queue, extractionService, logger)
		return
	}

	// 初始化API处理器
	docHandler := handler.NewDocumentHandler(extractionService, fileStorage)
	docHandler.SetUploadLimits(cfg.Upload.MaxFileSize, cfg.Upload.MaxPages)
	tableHandler := handler.NewTableHandler(extractionService)

	var taskHandler *handler.TaskHandler
	if queue != nil {
		taskHandler = handler.NewTaskHandler(queue)
	}

	// 设置路由
	r := api.SetupRouter(docHandler, tableHandler, taskHandler)

	// 启动HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  f.ReadTimeout,
		WriteTimeout: f.WriteTimeout,
	}

	// 优雅关闭
	go func() {
		// 启动服务
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// 创建带超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	f := flags{}

	flag.StringVar(&f.Mode, "mode", "debug", "Run mode (debug/release)")
	flag.StringVar(&f.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&f.ConfigFile, "config", "", "Path to config file")
	flag.DurationVar(&f.ReadTimeout, "read-timeout", 30*time.Second, "Read timeout")
	flag.DurationVar(&f.WriteTimeout, "write-timeout", 5*time.Minute, "Write timeout")
	flag.BoolVar(&f.Worker, "worker", false, "Run as task queue worker")

	flag.Parse()
	return f
}

// setupLogger 设置日志系统
func setupLogger(level string) *logrus.Logger {
	logger := middleware.GetLogger()

	// 设置日志级别
	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg *appconfig.Config, logger *logrus.Logger) error {
	dbConfig := &database.Config{
		Type: cfg.Database.Type,
		DSN:  cfg.Database.DSN,
	}

	return database.Setup(dbConfig, logger)
}

// setupStorage 设置文件存储服务
func setupStorage(cfg *appconfig.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "minio":
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
	default:
		// 确保存储目录存在
		if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %v", err)
		}

		return storage.NewLocalStorage(storage.LocalConfig{
			Path: cfg.Storage.Path,
		})
	}
}

// setupTableClient 设置表格识别服务客户端
func setupTableClient(cfg *appconfig.Config) (*ocr.TableClient, error) {
	ocrConfig := &ocr.Config{
		BaseURL:       cfg.OCR.BaseURL,
		Timeout:       cfg.OCR.Timeout,
		MaxRetries:    cfg.OCR.MaxRetries,
		RetryDelay:    cfg.OCR.RetryDelay,
		Lang:          cfg.OCR.Lang,
		MinConfidence: cfg.OCR.MinConfidence,
	}

	client, err := ocr.NewClient(ocrConfig)
	if err != nil {
		return nil, err
	}

	return ocr.NewTableClient(client), nil
}

// setupCache 设置缓存服务
func setupCache(cfg *appconfig.Config) (cache.Cache, error) {
	cacheConfig := cache.Config{
		Type:            cfg.Cache.Type,
		DefaultTTL:      time.Duration(cfg.Cache.TTL) * time.Second,
		CleanupInterval: 10 * time.Minute,
	}

	// 如果配置了Redis，添加Redis配置
	if cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Cache.Address
		cacheConfig.RedisPassword = cfg.Cache.Password
		cacheConfig.RedisDB = cfg.Cache.DB
	}

	return cache.NewCache(cacheConfig)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg *appconfig.Config, logger *logrus.Logger) (taskqueue.Queue, error) {
	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.Queue.RedisAddr,
		RedisPassword: cfg.Queue.RedisPassword,
		RedisDB:       cfg.Queue.RedisDB,
		Concurrency:   cfg.Queue.Concurrency,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    time.Duration(cfg.Queue.RetryDelay) * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"type":        cfg.Queue.Type,
		"redis_addr":  cfg.Queue.RedisAddr,
		"concurrency": cfg.Queue.Concurrency,
		"retry_limit": cfg.Queue.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewQueue(cfg.Queue.Type, queueConfig)
}

// runWorker 以工作者模式运行，消费任务队列中的文档处理任务
func runWorker(cfg *appconfig.Config, queue taskqueue.Queue, service *services.ExtractionService, logger *logrus.Logger) {
	if queue == nil {
		logger.Fatal("Worker mode requires the task queue to be enabled")
	}

	redisQueue, ok := queue.(*taskqueue.RedisQueue)
	if !ok {
		logger.Fatal("Worker mode requires a redis task queue")
	}

	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.Queue.RedisAddr,
		RedisPassword: cfg.Queue.RedisPassword,
		RedisDB:       cfg.Queue.RedisDB,
		Concurrency:   cfg.Queue.Concurrency,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    time.Duration(cfg.Queue.RetryDelay) * time.Second,
	}

	worker := taskqueue.NewRedisWorker(redisQueue, queueConfig)

	// 注册文档处理器
	taskHandler := services.NewExtractionTaskHandler(service, logger)
	for _, taskType := range taskHandler.GetTaskTypes() {
		worker.RegisterHandler(taskType, taskHandler)
	}

	// 启动工作者
	go func() {
		logger.Info("Task queue worker started")
		if err := worker.Start(); err != nil {
			logger.Fatalf("Worker stopped with error: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	worker.Stop()
	logger.Info("Worker exited")
}
