package api

import (
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"updowntrade.com/internal/infra"
)

type WsRequest struct {
	Action string `json:"Action"`
	Symbol string `json:"Symbol"`
}

// InitWebsocket 注册 /ws 路由
// 连接携带 userID 后可收到自己合约的倒计时/到期/结算推送,
// subscribe 某个 symbol 后可收到该标的的行情广播
func InitWebsocket(app *fiber.App, wsHub *infra.WsManager) {
	// Middleware to force upgrade
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		userID := c.Query("userID")
		log.Println("New WS connection, userID:", userID)

		wsHub.Register <- infra.UserConnection{UserID: userID, Conn: c}

		defer func() {
			wsHub.Unregister <- infra.UserConnection{UserID: userID, Conn: c}
		}()

		var msg WsRequest
		for {
			if err := c.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Println("ws read error:", err)
				}
				break
			}

			switch msg.Action {
			case "subscribe":
				wsHub.Subscribe(c, msg.Symbol)
			case "unsubscribe":
				wsHub.Unsubscribe(c, msg.Symbol)
			default:
				log.Println("Unexpected type:", msg.Action)
			}
		}
	}))
}
