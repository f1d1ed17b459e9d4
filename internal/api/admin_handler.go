package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"updowntrade.com/internal/engine"
	"updowntrade.com/internal/model"
)

// AdminHandler 运营接口: 全局策略、单合约覆盖、手动结算与入金
type AdminHandler struct {
	eng *engine.Engine
}

func NewAdminHandler(eng *engine.Engine) *AdminHandler {
	return &AdminHandler{eng: eng}
}

// GetPolicy 读取全局结算策略
func (h *AdminHandler) GetPolicy(c *fiber.Ctx) error {
	pol, err := h.eng.Admin().GetPolicy(c.Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(pol)
}

type SetPolicyBody struct {
	Mode string `json:"Mode"`
}

// SetPolicy 更新全局结算策略
func (h *AdminHandler) SetPolicy(c *fiber.Ctx) error {
	var body SetPolicyBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request"})
	}

	pol, err := h.eng.Admin().SetPolicy(c.Context(), model.PolicyMode(body.Mode))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(pol)
}

type SetOverrideBody struct {
	Override string `json:"Override"`
}

// SetOverride 设置单合约覆盖, 已结算的合约返回 409
func (h *AdminHandler) SetOverride(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid contract ID"})
	}

	var body SetOverrideBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request"})
	}

	contract, err := h.eng.Admin().SetOverride(c.Context(), id, model.Override(body.Override))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(contract)
}

// SettleNow 立即触发一次结算扫描
func (h *AdminHandler) SettleNow(c *fiber.Ctx) error {
	h.eng.Settlement().TriggerSettleNow()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"Message": "Settlement sweep triggered"})
}

type CreditBody struct {
	UserID   uint   `json:"UserID"`
	Currency string `json:"Currency"`
	Amount   string `json:"Amount"`
}

// Credit 给用户账户入金
func (h *AdminHandler) Credit(c *fiber.Ctx) error {
	var body CreditBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request"})
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid amount"})
	}

	acc, err := h.eng.Admin().Credit(c.Context(), body.UserID, body.Currency, amount)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(acc)
}
