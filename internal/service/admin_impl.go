package service

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"updowntrade.com/internal/constants"
	"updowntrade.com/internal/domain"
	"updowntrade.com/internal/event"
	"updowntrade.com/internal/model"
)

// AdminServiceImpl 实现 domain.AdminService 接口
type AdminServiceImpl struct {
	db  *gorm.DB
	bus *event.Bus // 可为 nil
}

// NewAdminService 创建运营服务
func NewAdminService(db *gorm.DB, bus *event.Bus) *AdminServiceImpl {
	return &AdminServiceImpl{db: db, bus: bus}
}

// GetPolicy 读取全局结算策略 (不存在时初始化为 none)
func (s *AdminServiceImpl) GetPolicy(ctx context.Context) (*model.SettlementPolicy, error) {
	pol := model.SettlementPolicy{ID: model.PolicyRowID, Mode: model.PolicyNone}
	if err := s.db.WithContext(ctx).FirstOrCreate(&pol, model.SettlementPolicy{ID: model.PolicyRowID}).Error; err != nil {
		return nil, domain.NewInternalError("failed to read settlement policy", err)
	}
	return &pol, nil
}

// SetPolicy 更新全局结算策略
// 策略只影响之后发生的结算; 进行中的合约在结算时刻读取最新值
func (s *AdminServiceImpl) SetPolicy(ctx context.Context, mode model.PolicyMode) (*model.SettlementPolicy, error) {
	if !mode.Valid() {
		return nil, domain.NewValidationError("mode must be none, win or lose")
	}

	pol, err := s.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(pol).Update("mode", mode).Error; err != nil {
		return nil, domain.NewInternalError("failed to update settlement policy", err)
	}
	pol.Mode = mode

	log.Printf("AdminService: global settlement policy set to %s", mode)

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type:   constants.EventPolicyUpdated,
			Source: "admin",
			Data:   *pol,
		})
	}

	return pol, nil
}

// SetOverride 设置单合约覆盖
// 合约已结算时拒绝: 结算是一次性写入, 覆盖只能在结算前生效
func (s *AdminServiceImpl) SetOverride(ctx context.Context, contractID uuid.UUID, override model.Override) (*model.Contract, error) {
	if !override.Valid() {
		return nil, domain.NewValidationError("override must be win, lose or real")
	}

	// 条件更新: 只有 pending 合约能改覆盖, 与结算写入的竞态由状态条件挡下
	res := s.db.WithContext(ctx).Model(&model.Contract{}).
		Where("id = ? AND status = ?", contractID, model.StatusPending).
		Update("override", override)
	if res.Error != nil {
		return nil, domain.NewInternalError("failed to set override", res.Error)
	}

	var c model.Contract
	if err := s.db.WithContext(ctx).First(&c, "id = ?", contractID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NewNotFoundError("contract not found")
		}
		return nil, domain.NewInternalError("failed to read contract", err)
	}

	if res.RowsAffected == 0 {
		return nil, domain.NewConflictError("contract already settled", domain.ErrContractSettled)
	}

	log.Printf("AdminService: override %q set on contract %s", override, contractID)

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type:   constants.EventOverrideSet,
			Source: "admin",
			Data:   c,
		})
	}

	return &c, nil
}

// Credit 给用户账户入金 (运营充值)
func (s *AdminServiceImpl) Credit(ctx context.Context, userID uint, currency string, amount decimal.Decimal) (*model.Account, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewValidationError("credit amount must be positive")
	}

	var acc model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(model.Account{UserID: userID, Currency: currency}).
			Attrs(model.Account{Available: decimal.Zero, Frozen: decimal.Zero}).
			FirstOrCreate(&acc).Error; err != nil {
			return err
		}
		// 增量在 SQL 内原子套用, 与并发的冻结/结算互不覆盖
		if err := tx.Model(&model.Account{}).
			Where("id = ?", acc.ID).
			Update("available", gorm.Expr("available + ?", amount)).Error; err != nil {
			return err
		}
		return tx.First(&acc, acc.ID).Error
	})
	if err != nil {
		return nil, domain.NewInternalError("failed to credit account", err)
	}

	log.Printf("AdminService: credited %s %s to user %d", amount, currency, userID)

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type:   constants.EventBalanceChanged,
			Source: "admin",
			Data:   acc,
		})
	}

	return &acc, nil
}

// 确保实现了接口
var _ domain.AdminService = (*AdminServiceImpl)(nil)
