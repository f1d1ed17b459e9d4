package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/constants"
	"updowntrade.com/internal/domain"
	"updowntrade.com/internal/event"
	"updowntrade.com/internal/model"
)

// PlacementServiceImpl 实现 domain.PlacementService 接口
type PlacementServiceImpl struct {
	db      *gorm.DB
	prices  domain.PriceSource
	trading *config.TradingConfig
	bus     *event.Bus
}

// NewPlacementService 创建下单服务
func NewPlacementService(
	db *gorm.DB,
	prices domain.PriceSource,
	trading *config.TradingConfig,
	bus *event.Bus,
) *PlacementServiceImpl {
	return &PlacementServiceImpl{
		db:      db,
		prices:  prices,
		trading: trading,
		bus:     bus,
	}
}

// PlaceContract 下单
// 冻结本金和创建合约在同一事务内完成; 失败路径不产生任何状态变更
func (s *PlacementServiceImpl) PlaceContract(ctx context.Context, ownerID uint, req domain.PlaceContractRequest) (*model.Contract, error) {
	// 1. 校验方向与档位
	if !req.Direction.Valid() {
		return nil, domain.NewValidationError("direction must be up or down")
	}

	tier, ok := s.trading.Tier(req.DurationSeconds)
	if !ok {
		return nil, domain.NewValidationError("duration not configured")
	}

	min := decimal.NewFromFloat(tier.MinAmount)
	max := decimal.NewFromFloat(tier.MaxAmount)
	if req.Amount.LessThan(min) || req.Amount.GreaterThan(max) {
		return nil, domain.NewValidationError("stake amount out of bounds for this duration")
	}

	// 2. 入场价快照
	entry, ok := s.prices.LastPrice(req.Symbol)
	if !ok {
		return nil, &domain.AppError{Code: 400, Message: "no quote for symbol", Err: domain.ErrNoQuote}
	}

	now := time.Now()
	contract := &model.Contract{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Amount:          req.Amount,
		Currency:        s.trading.Currency,
		EntryPrice:      entry,
		DurationSeconds: req.DurationSeconds,
		YieldRate:       decimal.NewFromFloat(tier.YieldRate),
		Status:          model.StatusPending,
		CreatedAt:       now,
		DueAt:           now.Add(time.Duration(req.DurationSeconds) * time.Second),
	}

	// 3. 冻结本金 + 创建合约 (单事务)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc model.Account
		if err := tx.Where("user_id = ? AND currency = ?", ownerID, s.trading.Currency).First(&acc).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return domain.NewInsufficientBalanceError("no account for settlement currency")
			}
			return domain.NewInternalError("failed to load account", err)
		}

		if acc.Available.LessThan(req.Amount) {
			return domain.NewInsufficientBalanceError("available balance below stake amount")
		}

		// 乐观校验旧值, 防止并发下单双花
		res := tx.Model(&model.Account{}).
			Where("id = ? AND available = ?", acc.ID, acc.Available).
			Updates(map[string]interface{}{
				"available": acc.Available.Sub(req.Amount),
				"frozen":    acc.Frozen.Add(req.Amount),
			})
		if res.Error != nil {
			return domain.NewInternalError("failed to freeze balance", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.NewConflictError("balance changed concurrently, retry placement", nil)
		}

		return tx.Create(contract).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("PlacementService: contract %s placed (%s %s %s, due %s)",
		contract.ID, contract.Symbol, contract.Direction, contract.Amount, contract.DueAt.Format("15:04:05"))

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type:   constants.EventContractPlaced,
			Source: "placement",
			Data:   *contract,
		})
	}

	return contract, nil
}

// GetContracts 获取用户合约列表
func (s *PlacementServiceImpl) GetContracts(ctx context.Context, ownerID uint, page, pageSize int) ([]model.Contract, int64, error) {
	var contracts []model.Contract
	var total int64

	offset := (page - 1) * pageSize

	query := s.db.WithContext(ctx).Model(&model.Contract{}).Where("owner_id = ?", ownerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, domain.NewInternalError("failed to count contracts", err)
	}

	if err := query.Order("created_at DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&contracts).Error; err != nil {
		return nil, 0, domain.NewInternalError("failed to fetch contracts", err)
	}

	return contracts, total, nil
}

// GetContract 读取单个合约 (兜底回读也使用此方法)
func (s *PlacementServiceImpl) GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	var c model.Contract
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NewNotFoundError("contract not found")
		}
		return nil, domain.NewInternalError("failed to read contract", err)
	}
	return &c, nil
}

// ReadContract implements the reconciler's store interface.
func (s *PlacementServiceImpl) ReadContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	return s.GetContract(ctx, id)
}

// GetAccount 获取用户资金账户
func (s *PlacementServiceImpl) GetAccount(ctx context.Context, ownerID uint, currency string) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).Where("user_id = ? AND currency = ?", ownerID, currency).First(&acc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NewNotFoundError("account not found")
		}
		return nil, domain.NewInternalError("failed to read account", err)
	}
	return &acc, nil
}

// 确保实现了接口
var _ domain.PlacementService = (*PlacementServiceImpl)(nil)
