package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/domain"
	"updowntrade.com/internal/engine"
	"updowntrade.com/internal/model"
)

// ContractHandler 合约下单与查询接口
type ContractHandler struct {
	eng *engine.Engine
	cfg *config.Config
}

func NewContractHandler(eng *engine.Engine, cfg *config.Config) *ContractHandler {
	return &ContractHandler{eng: eng, cfg: cfg}
}

type PlaceContractBody struct {
	Symbol          string `json:"Symbol"`
	Direction       string `json:"Direction"`
	Amount          string `json:"Amount"`
	DurationSeconds int    `json:"DurationSeconds"`
}

// PlaceContract 下单, 用户身份取自 JWT
func (h *ContractHandler) PlaceContract(c *fiber.Ctx) error {
	ownerID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"Error": "Unauthorized"})
	}

	var body PlaceContractBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request"})
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid amount"})
	}

	contract, err := h.eng.Placement().PlaceContract(c.Context(), ownerID, domain.PlaceContractRequest{
		Symbol:          body.Symbol,
		Direction:       model.Direction(body.Direction),
		Amount:          amount,
		DurationSeconds: body.DurationSeconds,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(contract)
}

// GetContracts 分页查询用户合约, 只能看自己的 (admin 除外)
func (h *ContractHandler) GetContracts(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("userID"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid user ID"})
	}

	if me, ok := currentUserID(c); !ok || (uint(userID) != me && !isAdmin(c)) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"Error": "Permission denied"})
	}

	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("pageSize", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	contracts, total, err := h.eng.Placement().GetContracts(c.Context(), uint(userID), page, pageSize)
	if err != nil {
		return handleError(c, err)
	}

	return SendPaginatedResponse(c, contracts, page, pageSize, total)
}

// GetContract 查询单个合约, 仅限本人或 admin
func (h *ContractHandler) GetContract(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid contract ID"})
	}

	contract, err := h.eng.Placement().GetContract(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	if me, ok := currentUserID(c); !ok || (contract.OwnerID != me && !isAdmin(c)) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"Error": "Permission denied"})
	}

	return c.JSON(contract)
}

// GetAccount 查询用户资金账户
func (h *ContractHandler) GetAccount(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("userID"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid user ID"})
	}

	if me, ok := currentUserID(c); !ok || (uint(userID) != me && !isAdmin(c)) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"Error": "Permission denied"})
	}

	acc, err := h.eng.Placement().GetAccount(c.Context(), uint(userID), h.cfg.Trading.Currency)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(acc)
}

// GetDurations 返回可选时长档位与收益率
func (h *ContractHandler) GetDurations(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"Data": h.cfg.Trading.Tiers})
}
