// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchat-go/internal/config"
	"docchat-go/internal/handler"
	"docchat-go/internal/middleware"
	"docchat-go/internal/model"
	"docchat-go/internal/pipeline"
	"docchat-go/internal/repository"
	"docchat-go/internal/service"
	"docchat-go/pkg/database"
	"docchat-go/pkg/es"
	"docchat-go/pkg/extract"
	"docchat-go/pkg/kafka"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/websearch"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、MinIO、ES、Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.Document{}, &model.DocumentChunk{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	passageCache := repository.NewPassageCacheRepository(database.RDB)
	answerCache := repository.NewAnswerCacheRepository(database.RDB)
	msgRepo := repository.NewMessageRepository(database.RDB, cfg.Room.HistoryLimit)

	// 5. 初始化 Service (依赖注入)
	llmClient := llm.NewClient(cfg.LLM)
	webClient := websearch.NewClient(cfg.WebSearch)
	extractor := extract.NewExtractor()
	retriever := service.NewRetrievalService(docRepo, passageCache)
	answerService := service.NewAnswerService(retriever, answerCache, docRepo, llmClient, webClient)
	documentService := service.NewDocumentService(docRepo, passageCache, answerCache, cfg.MinIO, cfg.Elasticsearch)
	searchService := service.NewSearchService(es.ESClient, cfg.Elasticsearch)
	coordinator := service.NewRoomCoordinator(msgRepo, answerService, cfg.Room.HistoryLimit, cfg.Room.EditWindowMinutes)

	// 6. 初始化文档处理管道 (Processor) 并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(
		extractor,
		cfg.Elasticsearch,
		cfg.MinIO,
		docRepo,
		passageCache,
		answerCache,
	)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	{
		documents := apiV1.Group("/documents")
		{
			docHandler := handler.NewDocumentHandler(documentService)
			documents.POST("", docHandler.Upload)
			documents.GET("", docHandler.List)
			documents.GET("/:id", docHandler.Get)
			documents.DELETE("/:id", docHandler.Delete)
			documents.POST("/:id/reprocess", docHandler.Reprocess)
		}

		search := apiV1.Group("/search")
		{
			search.GET("/keyword", handler.NewSearchHandler(searchService).KeywordSearch)
		}
	}

	// 聊天室 WebSocket 路由
	r.GET("/ws", handler.NewRoomHandler(coordinator).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
