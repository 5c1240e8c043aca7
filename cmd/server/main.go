// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mentalist-go/internal/config"
	"mentalist-go/internal/handler"
	"mentalist-go/internal/middleware"
	"mentalist-go/internal/model"
	"mentalist-go/internal/pipeline"
	"mentalist-go/internal/repository"
	"mentalist-go/internal/service"
	"mentalist-go/pkg/database"
	"mentalist-go/pkg/es"
	"mentalist-go/pkg/kafka"
	"mentalist-go/pkg/llm"
	"mentalist-go/pkg/log"
	"mentalist-go/pkg/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与可选的外部组件
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if cfg.MinIO.Endpoint != "" {
		storage.InitMinIO(cfg.MinIO)
	}
	if cfg.Elasticsearch.Addresses != "" {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败 %s", err)
			return
		}
	}
	if cfg.Kafka.Brokers != "" {
		kafka.InitProducer(cfg.Kafka)
	}

	// 4. 初始化 Repository
	personaRepo := repository.NewPersonaRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	outcomeRepo := repository.NewOutcomeRepository(database.DB)
	metricRepo := repository.NewMetricRepository(database.DB)
	briefingCache := repository.NewBriefingCache(database.RDB)

	// 5. 初始化 Service (依赖注入)
	llmClient := llm.NewClient(cfg.LLM)
	analysisService := service.NewAnalysisService(llmClient)
	metricService := service.NewMetricService(metricRepo)
	experienceService := service.NewExperienceService(database.DB, personaRepo, outcomeRepo, metricService, briefingCache)
	learner := pipeline.NewLearner(sessionRepo, analysisService, experienceService)
	sessionService := service.NewSessionService(sessionRepo, personaRepo, learner)
	knowledgeService := service.NewKnowledgeService(outcomeRepo)
	memoryService := service.NewMemoryService(outcomeRepo, cfg.Learning.MemoryLimit)
	contextService := service.NewContextService(
		personaRepo, knowledgeService, memoryService, metricService,
		cfg.Learning.WindowSize, briefingCache,
		time.Duration(cfg.Learning.ContextCacheTTLSeconds)*time.Second,
	)
	chatService := service.NewChatService(sessionService, contextService, llmClient)

	// 6. 确保配置中声明的人格档案存在
	seedPersonas(personaRepo)

	// 7. 启动后台 Kafka 消费者（已配置时）
	if kafka.Enabled() {
		go kafka.StartConsumer(cfg.Kafka, learner)
	}

	// 7.1 空闲会话回收（扩展行为，默认关闭）
	reapCtx, cancelReap := context.WithCancel(context.Background())
	defer cancelReap()
	if cfg.Learning.IdleTimeoutMinutes > 0 {
		go reapIdleSessions(reapCtx, sessionService, time.Duration(cfg.Learning.IdleTimeoutMinutes)*time.Minute)
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	sessionHandler := handler.NewSessionHandler(sessionService)
	learningHandler := handler.NewLearningHandler(knowledgeService, memoryService, metricService, contextService)
	chatHandler := handler.NewChatHandler(chatService)

	apiV1 := r.Group("/api/v1")
	{
		sessions := apiV1.Group("/sessions")
		{
			sessions.POST("/start", sessionHandler.Start)
			sessions.POST("/:id/messages", sessionHandler.AppendMessage)
			sessions.POST("/:id/end", sessionHandler.End)
			sessions.GET("/:id/messages", sessionHandler.ListMessages)
		}

		personas := apiV1.Group("/personas")
		{
			personas.GET("/:id/learnings", learningHandler.Learnings)
			personas.GET("/:id/metrics", learningHandler.Metrics)
			personas.GET("/:id/memory", learningHandler.Memory)
			personas.GET("/:id/context", learningHandler.Context)
		}

		apiV1.GET("/experiences/search", learningHandler.SearchExperiences)
		apiV1.GET("/ws/chat", chatHandler.Handle)
	}

	// 10. 启动 HTTP 服务并处理优雅退出
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Infof("服务启动，监听端口 %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", err)
	}
	log.Info("服务已退出")
}

// seedPersonas 确保配置中声明的人格在数据库中存在，已存在的不做修改。
func seedPersonas(personaRepo repository.PersonaRepository) {
	for _, seed := range config.Conf.Personas {
		if _, err := personaRepo.FindByName(seed.Name); err == nil {
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("查询人格 '%s' 失败: %v", seed.Name, err)
			continue
		}
		persona := &model.Persona{
			Name:            seed.Name,
			BasePrompt:      seed.BasePrompt,
			KnowledgeBase:   seed.KnowledgeBase,
			LearningEnabled: true,
		}
		if err := personaRepo.Create(persona); err != nil {
			log.Errorf("创建人格 '%s' 失败: %v", seed.Name, err)
			continue
		}
		log.Infof("人格 '%s' 已创建 (id=%d)", seed.Name, persona.ID)
	}
}

// reapIdleSessions 周期性回收空闲超时的活跃会话。
func reapIdleSessions(ctx context.Context, sessionService service.SessionService, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessionService.ReapIdle(ctx, maxIdle); err != nil {
				log.Errorf("空闲会话回收失败: %v", err)
			}
		}
	}
}
