package main

import (
	"log"

	"credits-core/internal/model"
	"credits-core/pkg/config"
	"credits-core/pkg/database"
)

// 独立的 Schema 迁移工具
// 生产环境不在服务启动时 AutoMigrate，改为显式执行:
//
//	go run ./cmd/migrate
func main() {
	config.Init()

	db, err := database.Connect(config.Global.DB.Driver, config.Global.DB.DSN)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("开始迁移 Schema...")
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		log.Fatalf("迁移失败: %v", err)
	}
	log.Println("迁移完成")
}
