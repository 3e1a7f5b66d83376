package main

import (
	"context"

	"credits-core/internal/chain"
	"credits-core/internal/handler"
	"credits-core/internal/model"
	"credits-core/internal/server"
	"credits-core/internal/service"
	"credits-core/internal/service/mq"
	"credits-core/internal/settings"
	"credits-core/internal/store"
	"credits-core/pkg/config"
	"credits-core/pkg/database"
	"credits-core/pkg/logger"

	"go.uber.org/zap"
)

// @title Credits Core API
// @version 1.0
// @description Credits ledger & payout orchestration engine

// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 2. 连接数据库
	db, err := database.Connect(config.Global.DB.Driver, config.Global.DB.DSN)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 3. 执行数据库迁移 (Auto Migrate)
	if config.Global.App.Env == "development" {
		logger.Info("开发环境: 尝试自动迁移 Schema (GORM AutoMigrate)...")
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("生产环境: 跳过 AutoMigrate，请使用 migrate 工具管理 Schema")
	}

	// 4. 组装核心组件
	st := store.New(db)
	resolver := settings.NewResolver(db)
	capability := chain.NewCapability(resolver)
	broadcaster := chain.NewBroadcaster(capability)

	creditService := service.NewCreditService(st)
	payoutService := service.NewPayoutService(st, capability, broadcaster)

	// 5. 启动 Outbox 消息中继
	var producer mq.Producer
	if config.Global.MQ.Type == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...")
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers, config.Global.Kafka.Topic)
	} else {
		producer = mq.NewLogProducer()
	}
	relayService := service.NewRelayService(db, producer)
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	go relayService.Start(relayCtx)

	// 6. 打印启动时的 payout 能力状态
	status := capability.CurrentStatus(context.Background())
	if status.Configured {
		logger.Info("payout engine configured",
			zap.String("from", status.FromAddress),
			zap.String("asset", status.Asset),
			zap.Bool("token_mode", status.TokenMode),
		)
	} else {
		logger.Warn("payout engine not configured", zap.String("reason", status.Error))
	}

	// 7. HTTP Router & App
	h := handler.New(creditService, payoutService, resolver, capability)
	r := server.NewHTTPRouter(h)

	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)

	// 运行 (阻塞)
	app.Run()

	// 8. 退出后资源清理
	relayCancel()
	logger.Info("正在关闭数据库连接...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("系统已退出")
}
