package main

import (
	"context"
	"log"

	"updowntrade.com/internal/api"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/engine"
	"updowntrade.com/internal/infra"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化基础设施
	// Postgres
	pg, err := infra.NewPostgresClient(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Redis
	rdb := infra.NewRedisClient(cfg.Redis)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// 3. 初始化 WebSocket 管理器
	wsHub := infra.NewWsManager()

	// 4. 初始化引擎 (下单/结算/对账服务 + 行情接入 + 未结算合约恢复)
	eng := engine.NewEngine(cfg, pg.DB, rdb, wsHub)
	if err := eng.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// 5. 设置 Fiber 服务器并注册路由
	app := api.NewServer(cfg)
	router := api.NewRouter(app, cfg, eng, pg, wsHub)
	router.RegisterRoutes()

	// 6. 启动服务器
	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := app.Listen(cfg.Server.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
