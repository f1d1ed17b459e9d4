package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/constants"
	"updowntrade.com/internal/domain"
	"updowntrade.com/internal/event"
	"updowntrade.com/internal/model"
	"updowntrade.com/internal/outcome"
)

// errAlreadySettled 内部哨兵: CAS 未命中, 另一个结算方已写入
var errAlreadySettled = errors.New("contract already settled by another settler")

// SettlementServiceImpl 实现 domain.SettlementService 接口
// 结算写入用 status pending -> settled 的 CAS 保证每个合约只生效一次,
// 重复触发、并发扫描都是安全的
type SettlementServiceImpl struct {
	db        *gorm.DB
	prices    domain.PriceSource
	publisher domain.ContractPublisher // 可为 nil (测试)
	locker    domain.Locker            // 可为 nil (单实例)
	trading   *config.TradingConfig
	bus       *event.Bus // 可为 nil
}

// NewSettlementService 创建结算服务
func NewSettlementService(
	db *gorm.DB,
	prices domain.PriceSource,
	publisher domain.ContractPublisher,
	locker domain.Locker,
	trading *config.TradingConfig,
	bus *event.Bus,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		db:        db,
		prices:    prices,
		publisher: publisher,
		locker:    locker,
		trading:   trading,
		bus:       bus,
	}
}

// SettleDue 扫描所有到期未结算的合约并逐个结算
// 幂等: 已结算的合约被 CAS 挡下, 不产生第二次写入
func (s *SettlementServiceImpl) SettleDue(ctx context.Context) (int, error) {
	if s.locker != nil {
		unlock, err := s.locker.Acquire(ctx, constants.RedisKeySweepLock, 30*time.Second)
		if errors.Is(err, domain.ErrLockHeld) {
			// 另一个实例正在扫描
			return 0, nil
		}
		if err != nil {
			return 0, domain.NewInternalError("failed to acquire sweep lock", err)
		}
		defer unlock()
	}

	var due []model.Contract
	if err := s.db.WithContext(ctx).
		Where("status = ? AND due_at <= ?", model.StatusPending, time.Now()).
		Find(&due).Error; err != nil {
		return 0, domain.NewInternalError("failed to scan due contracts", err)
	}

	settled := 0
	for i := range due {
		if err := s.settleOne(ctx, &due[i]); err != nil {
			log.Printf("SettlementService: failed to settle %s: %v", due[i].ID, err)
			continue
		}
		settled++
	}

	if settled > 0 {
		log.Printf("SettlementService: settled %d contract(s)", settled)
	}
	return settled, nil
}

// TriggerSettleNow 立即触发一次结算扫描, 不等待结果
// 失败只记日志: 结算服务自身的周期扫描会兜底
func (s *SettlementServiceImpl) TriggerSettleNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := s.SettleDue(ctx); err != nil {
			log.Printf("SettlementService: settle-now trigger failed: %v", err)
		}
	}()
}

// settleOne 结算单个合约: 结果判定 -> CAS 写入 -> 账户解冻+损益 -> 推送
func (s *SettlementServiceImpl) settleOne(ctx context.Context, c *model.Contract) error {
	// 全局策略在结算时刻快照, 不用下单时的值
	// 读不到策略 (传输错误) 就放弃本单, 下一轮扫描在正确策略下重试
	policy, err := s.readPolicy(ctx)
	if err != nil {
		return err
	}

	market, ok := s.prices.LastPrice(c.Symbol)
	if !ok {
		// 无行情: 按入场价结算, 方向没有走出来判输
		log.Printf("SettlementService: no quote for %s, settling %s at entry price", c.Symbol, c.ID)
		market = c.EntryPrice
	}

	verdict := outcome.Resolve(outcome.Input{
		Direction:    c.Direction,
		Override:     c.Override,
		Policy:       policy,
		EntryPrice:   c.EntryPrice,
		MarketPrice:  market,
		Amount:       c.Amount,
		YieldRate:    c.YieldRate,
		ForcedOffset: decimal.NewFromFloat(s.trading.ForcedPriceOffset),
	})

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// CAS: 只有第一个结算方能把 pending 翻成 settled
		res := tx.Model(&model.Contract{}).
			Where("id = ? AND status = ?", c.ID, model.StatusPending).
			Updates(map[string]interface{}{
				"status":      model.StatusSettled,
				"result":      verdict.Result,
				"final_price": verdict.FinalPrice,
				"profit":      verdict.Profit,
				"settled_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadySettled
		}

		// 解冻本金, 损益入可用余额 (输单 profit = -amount, 净入账为 0)
		// 增量在 SQL 内原子套用: 并发下单刚冻结的资金不会被快照覆盖掉
		res = tx.Model(&model.Account{}).
			Where("user_id = ? AND currency = ?", c.OwnerID, c.Currency).
			Updates(map[string]interface{}{
				"available": gorm.Expr("available + ?", c.Amount.Add(verdict.Profit)),
				"frozen":    gorm.Expr("frozen - ?", c.Amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, errAlreadySettled) {
		// 重复结算是 no-op, 不是错误
		return nil
	}
	if err != nil {
		return err
	}

	c.Status = model.StatusSettled
	c.Result = verdict.Result
	c.FinalPrice = verdict.FinalPrice
	c.Profit = verdict.Profit
	c.SettledAt = &now

	log.Printf("SettlementService: contract %s settled %s (final %s, profit %s)",
		c.ID, c.Result, c.FinalPrice, c.Profit)

	// 推送通道交付失败由兜底回读补偿, 从不上抛给用户
	if s.publisher != nil {
		if err := s.publisher.PublishContractUpdate(ctx, c); err != nil {
			log.Printf("SettlementService: push publish failed for %s: %v", c.ID, err)
		}
	}

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type:   constants.EventContractSettled,
			Source: "settlement",
			Data:   *c,
		})
	}

	return nil
}

// readPolicy 读取全局策略
// 行不存在视为 none; 其他错误上抛, 不允许把运营设置静默降级成真实行情结算
func (s *SettlementServiceImpl) readPolicy(ctx context.Context) (model.PolicyMode, error) {
	var pol model.SettlementPolicy
	if err := s.db.WithContext(ctx).First(&pol, model.PolicyRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.PolicyNone, nil
		}
		return "", err
	}
	if !pol.Mode.Valid() {
		return model.PolicyNone, nil
	}
	return pol.Mode, nil
}

// 确保实现了接口
var _ domain.SettlementService = (*SettlementServiceImpl)(nil)
