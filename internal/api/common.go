package api

import (
	"errors"
	"math"

	"github.com/gofiber/fiber/v2"
	"updowntrade.com/internal/domain"
)

// Pagination 元数据结构
type Pagination struct {
	Page      int   `json:"Page"`      // 当前页码
	PageSize  int   `json:"PageSize"`  // 每页条数
	Total     int64 `json:"Total"`     // 总记录数
	TotalPage int   `json:"TotalPage"` // 总页数
}

// ListResponse 统一的分页响应结构
type ListResponse struct {
	Data       interface{} `json:"Data"`       // 数据列表
	Pagination Pagination  `json:"Pagination"` // 分页信息
}

// SendPaginatedResponse 发送标准的分页响应
func SendPaginatedResponse(c *fiber.Ctx, data interface{}, page, pageSize int, total int64) error {
	totalPage := 0
	if pageSize > 0 {
		totalPage = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	return c.JSON(ListResponse{
		Data: data,
		Pagination: Pagination{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: totalPage,
		},
	})
}

// handleError 把业务错误映射为 HTTP 响应
func handleError(c *fiber.Ctx, err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Code).JSON(fiber.Map{"Error": appErr.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"Error": "Internal server error"})
}

// currentUserID 从 JWT 中间件注入的 Locals 中取当前用户 ID
// JWT 数值类 claim 解析后是 float64
func currentUserID(c *fiber.Ctx) (uint, bool) {
	switch v := c.Locals("id").(type) {
	case float64:
		return uint(v), true
	case uint:
		return v, true
	case int:
		return uint(v), true
	default:
		return 0, false
	}
}

// isAdmin 当前请求是否来自 admin 角色
func isAdmin(c *fiber.Ctx) bool {
	role, _ := c.Locals("role").(string)
	return role == "admin"
}
