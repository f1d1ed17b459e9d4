package api

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"updowntrade.com/internal/api/middleware"
	"updowntrade.com/internal/auth"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/engine"
	"updowntrade.com/internal/infra"
)

// Router 负责注册所有路由
type Router struct {
	app    *fiber.App
	cfg    *config.Config
	eng    *engine.Engine
	db     *infra.PostgresClient
	wsHub  *infra.WsManager
	router fiber.Router // /api group
}

func NewRouter(app *fiber.App, cfg *config.Config, eng *engine.Engine, db *infra.PostgresClient, wsHub *infra.WsManager) *Router {
	return &Router{
		app:   app,
		cfg:   cfg,
		eng:   eng,
		db:    db,
		wsHub: wsHub,
	}
}

// RegisterRoutes 注册所有业务路由
func (r *Router) RegisterRoutes() {
	// 1. 初始化鉴权与中间件
	enforcer, err := auth.InitCasbin(r.db.DB)
	if err != nil {
		log.Fatalf("Failed to initialize Casbin: %v", err)
	}

	// 2. 初始化各个 Handler
	authHandler := NewAuthHandler(r.db.DB, r.cfg)
	contractHandler := NewContractHandler(r.eng, r.cfg)
	adminHandler := NewAdminHandler(r.eng)

	// 3. 注册 WebSocket 路由 (不需要 JWT 中间件)
	InitWebsocket(r.app, r.wsHub)

	// 4. 注册公开路由 (Public)
	r.app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "ok",
			"message": "Service is healthy",
		})
	})

	r.app.Post("/auth/register", authHandler.Register)
	r.app.Post("/auth/login", authHandler.Login)
	authHandler.EnsureAdminUser()

	// 5. 注册受保护的 API 路由 (Protected /api)
	r.router = r.app.Group("/api")
	r.router.Use(middleware.CasbinMiddleware(enforcer, r.cfg.JWT.Secret))

	r.registerContractRoutes(contractHandler)
	r.registerAdminRoutes(adminHandler)
	r.registerAuthRoutes(authHandler)
}

func (r *Router) registerContractRoutes(h *ContractHandler) {
	// 下单限频: 每用户每秒 2 单, 突发 5
	placeLimiter := middleware.PerUserRateLimit(2, 5)

	contracts := r.router.Group("/contracts")
	contracts.Post("/", placeLimiter, h.PlaceContract)
	contracts.Get("/:id", h.GetContract)

	users := r.router.Group("/users/:userID")
	users.Get("/contracts", h.GetContracts)
	users.Get("/account", h.GetAccount)

	r.router.Get("/durations", h.GetDurations)
}

func (r *Router) registerAdminRoutes(h *AdminHandler) {
	admin := r.router.Group("/admin")
	admin.Get("/policy", h.GetPolicy)
	admin.Put("/policy", h.SetPolicy)
	admin.Put("/contracts/:id/override", h.SetOverride)
	admin.Post("/settle", h.SettleNow)
	admin.Post("/credit", h.Credit)
}

func (r *Router) registerAuthRoutes(h *AuthHandler) {
	r.router.Get("/auth/me", h.GetMe)
	r.router.Post("/auth/logout", h.Logout)
}
