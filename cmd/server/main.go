// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"invoice-assistant-go/internal/assistant"
	"invoice-assistant-go/internal/config"
	"invoice-assistant-go/internal/handler"
	"invoice-assistant-go/internal/middleware"
	"invoice-assistant-go/internal/pipeline"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/internal/service"
	"invoice-assistant-go/pkg/database"
	"invoice-assistant-go/pkg/es"
	"invoice-assistant-go/pkg/kafka"
	"invoice-assistant-go/pkg/llm"
	"invoice-assistant-go/pkg/log"
	"invoice-assistant-go/pkg/storage"
	"invoice-assistant-go/pkg/token"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
)

// repositories 汇总了数据层实现，MySQL/Redis 与内存两套可互换。
type repositories struct {
	users         repository.UserRepository
	documents     repository.DocumentRepository
	clients       repository.ClientRepository
	business      repository.BusinessRepository
	conversations repository.ConversationRepository
	contexts      repository.ChatContextRepository
	blacklist     repository.TokenBlacklist
	locker        repository.TurnLocker
}

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据层
	repos := initRepositories(cfg)

	var esClient *elasticsearch.Client
	if cfg.Elasticsearch.Enabled {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			// 客户检索可以回退到数据库查询
			log.Errorf("es 初始化失败，客户检索将使用数据库查询: %v", err)
		} else {
			esClient = es.ESClient
		}
	}

	var logoStore storage.LogoStore
	if cfg.MinIO.Enabled {
		storage.InitMinIO(cfg.MinIO)
		logoStore = storage.NewLogoStore(storage.MinioClient, cfg.MinIO)
	}

	var publish service.EventPublisher
	kafkaEnabled := cfg.Kafka.Enabled && !cfg.Database.UseInMemory
	if kafkaEnabled {
		kafka.InitProducer(cfg.Kafka)
		publish = kafka.ProduceSubscriptionEvent
	}

	// 4. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	clientSearcher := repository.NewClientSearcher(esClient, cfg.Elasticsearch.ClientIndex, repos.clients)

	usageService := service.NewUsageService(repos.documents)
	subscriptionService := service.NewSubscriptionService(repos.users, publish)
	userService := service.NewUserService(repos.users, repos.blacklist, jwtManager)
	conversationService := service.NewConversationService(repos.conversations, repos.contexts)
	adminService := service.NewAdminService(repos.users, usageService, subscriptionService, conversationService)

	var logos assistant.LogoURLer
	if logoStore != nil {
		logos = logoStore
	}
	executor := assistant.NewExecutor(repos.documents, repos.clients, clientSearcher, repos.business, usageService, logos)
	chatService := service.NewChatService(
		llmClient,
		executor,
		repos.conversations,
		repos.contexts,
		repos.business,
		usageService,
		subscriptionService,
		repos.locker,
		cfg.LLM,
	)

	// 5. 启动后台 Kafka 消费者
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan struct{})
	if kafkaEnabled {
		processor := pipeline.NewSubscriptionProcessor(subscriptionService, repos.users)
		go func() {
			defer close(consumerDone)
			kafka.StartConsumer(consumerCtx, cfg.Kafka, processor)
		}()
	} else {
		close(consumerDone)
		log.Info("Kafka 未启用，订阅变更将同步写入")
	}

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(userService)
	chatHandler := handler.NewChatHandler(chatService, userService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	usageHandler := handler.NewUsageHandler(usageService, subscriptionService)
	uploadHandler := handler.NewUploadHandler(logoStore, repos.business)
	adminHandler := handler.NewAdminHandler(adminService)
	authMiddleware := middleware.AuthMiddleware(userService)

	// 7. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/")
			authed.Use(authMiddleware)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		authedAPI := apiV1.Group("")
		authedAPI.Use(authMiddleware)
		{
			authedAPI.POST("/chat/messages", chatHandler.SendMessage)
			authedAPI.GET("/chat/history", conversationHandler.GetConversations)
			authedAPI.DELETE("/chat/history", conversationHandler.ClearConversation)
			authedAPI.GET("/usage", usageHandler.GetUsage)
			authedAPI.GET("/subscription", usageHandler.GetSubscription)
			authedAPI.GET("/business", uploadHandler.GetBusinessSettings)
			authedAPI.POST("/business/logo", uploadHandler.UploadLogo)
		}

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(authMiddleware, middleware.AdminAuthMiddleware())
		{
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.PUT("/users/:userId/subscription", adminHandler.SetUserSubscription)
			admin.GET("/users/:userId/conversation", adminHandler.GetUserConversation)
		}
	}
	// WebSocket 无法携带授权头，token 放在路径中
	r.GET("/chat/:token", chatHandler.Handle)

	// 8. 启动 HTTP 服务器并实现优雅停机
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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	log.Info("服务已优雅关闭")
}

func initRepositories(cfg config.Config) repositories {
	if cfg.Database.UseInMemory {
		log.Info("使用内存数据层，重启后数据不会保留")
		return repositories{
			users:         repository.NewMemoryUserRepository(),
			documents:     repository.NewMemoryDocumentRepository(),
			clients:       repository.NewMemoryClientRepository(),
			business:      repository.NewMemoryBusinessRepository(),
			conversations: repository.NewMemoryConversationRepository(),
			contexts:      repository.NewMemoryChatContextRepository(),
			blacklist:     repository.NewMemoryTokenBlacklist(),
			locker:        repository.NewLocalTurnLocker(),
		}
	}

	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.AutoMigrate(database.DB); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	return repositories{
		users:         repository.NewUserRepository(database.DB),
		documents:     repository.NewDocumentRepository(database.DB),
		clients:       repository.NewClientRepository(database.DB),
		business:      repository.NewBusinessRepository(database.DB),
		conversations: repository.NewConversationRepository(database.DB),
		contexts:      repository.NewChatContextRepository(database.RDB),
		blacklist:     repository.NewRedisTokenBlacklist(database.RDB),
		locker: repository.NewRedisTurnLocker(
			database.RDB,
			cfg.TurnLockTTL(),
			time.Duration(cfg.Chat.TurnLockWaitSeconds)*time.Second,
		),
	}
}
