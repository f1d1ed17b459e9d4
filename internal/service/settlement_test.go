package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"updowntrade.com/internal/domain"
	"updowntrade.com/internal/model"
)

// fakePublisher records settled contracts handed to the push channel.
type fakePublisher struct {
	mu     sync.Mutex
	pushed []model.Contract
	err    error
}

func (p *fakePublisher) PublishContractUpdate(_ context.Context, c *model.Contract) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, *c)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushed)
}

// placeDue 下一单并把到期时间改到过去, 使其立即可结算
func placeDue(t *testing.T, db *gorm.DB, svc *PlacementServiceImpl, ownerID uint, dir model.Direction, amount string) *model.Contract {
	t.Helper()

	c, err := svc.PlaceContract(context.Background(), ownerID, domain.PlaceContractRequest{
		Symbol:          "BTCUSDT",
		Direction:       dir,
		Amount:          decimal.RequireFromString(amount),
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	require.NoError(t, db.Model(&model.Contract{}).
		Where("id = ?", c.ID).
		Update("due_at", time.Now().Add(-time.Second)).Error)
	return c
}

func TestSettleDue_RealMarketWin(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	settleSvc := NewSettlementService(db, prices, nil, nil, trading, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionUp, "100")

	// 到期时价格高于入场价, 买涨获胜
	prices["BTCUSDT"] = "50100"

	n, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var settled model.Contract
	require.NoError(t, db.First(&settled, "id = ?", c.ID).Error)
	assert.Equal(t, model.StatusSettled, settled.Status)
	assert.Equal(t, model.ResultWin, settled.Result)
	assert.True(t, settled.FinalPrice.Equal(decimal.NewFromInt(50100)))
	assert.True(t, settled.Profit.Equal(decimal.NewFromInt(20)), "profit = %s", settled.Profit)
	require.NotNil(t, settled.SettledAt)

	// 本金解冻, 收益入账: 1000 - 100 冻结 + (100 + 20) 结算
	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(1020)), "available = %s", acc.Available)
	assert.True(t, acc.Frozen.Equal(decimal.Zero), "frozen = %s", acc.Frozen)
}

func TestSettleDue_GlobalPolicyLose(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	settleSvc := NewSettlementService(db, prices, nil, nil, trading, nil)
	adminSvc := NewAdminService(db, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionUp, "100")

	_, err := adminSvc.SetPolicy(context.Background(), model.PolicyLose)
	require.NoError(t, err)

	// 行情本应获胜, 但全局策略强制判输
	prices["BTCUSDT"] = "50100"

	n, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var settled model.Contract
	require.NoError(t, db.First(&settled, "id = ?", c.ID).Error)
	assert.Equal(t, model.ResultLose, settled.Result)
	assert.True(t, settled.Profit.Equal(decimal.NewFromInt(-100)))
	// 合成最终价必须与判输自洽: 买涨判输, 最终价低于入场价
	assert.True(t, settled.FinalPrice.LessThan(settled.EntryPrice),
		"final %s must sit below entry %s", settled.FinalPrice, settled.EntryPrice)

	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(900)))
	assert.True(t, acc.Frozen.Equal(decimal.Zero))
}

func TestSettleDue_OverrideBeatsPolicy(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	settleSvc := NewSettlementService(db, prices, nil, nil, trading, nil)
	adminSvc := NewAdminService(db, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionDown, "100")

	_, err := adminSvc.SetPolicy(context.Background(), model.PolicyLose)
	require.NoError(t, err)
	_, err = adminSvc.SetOverride(context.Background(), c.ID, model.OverrideWin)
	require.NoError(t, err)

	// 行情与策略都指向判输, 单合约覆盖仍然获胜
	prices["BTCUSDT"] = "50100"

	_, err = settleSvc.SettleDue(context.Background())
	require.NoError(t, err)

	var settled model.Contract
	require.NoError(t, db.First(&settled, "id = ?", c.ID).Error)
	assert.Equal(t, model.ResultWin, settled.Result)
	assert.True(t, settled.Profit.Equal(decimal.NewFromInt(20)))
	// 买跌获胜, 最终价低于入场价
	assert.True(t, settled.FinalPrice.LessThan(settled.EntryPrice))
}

func TestSettleDue_Idempotent(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	pub := &fakePublisher{}
	settleSvc := NewSettlementService(db, prices, pub, nil, trading, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionUp, "100")
	prices["BTCUSDT"] = "50100"

	n, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 第二次扫描不再命中
	n, err = settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// 即使拿着过期的 pending 快照直接结算, CAS 也会挡下, 且不报错
	stale := *c
	stale.Status = model.StatusPending
	require.NoError(t, settleSvc.settleOne(context.Background(), &stale))

	// 账本只记了一次
	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(1020)), "available = %s", acc.Available)
	assert.True(t, acc.Frozen.Equal(decimal.Zero))
	assert.Equal(t, 1, pub.count(), "push fires once per settlement")
}

func TestSettleDue_ConcurrentFreezeNotLost(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	settleSvc := NewSettlementService(db, prices, nil, nil, trading, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionUp, "100")
	prices["BTCUSDT"] = "50100"

	// 结算写账户前, 在同一事务连接上插入另一笔 100 的冻结,
	// 模拟 READ COMMITTED 下并发下单在结算中途提交
	injected := false
	err := db.Callback().Update().Before("gorm:update").Register("freeze_between", func(tx *gorm.DB) {
		if injected || tx.Statement.Table != "accounts" {
			return
		}
		injected = true
		if _, execErr := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE accounts SET available = available - 100, frozen = frozen + 100 WHERE user_id = 1"); execErr != nil {
			t.Errorf("interleaved freeze failed: %v", execErr)
		}
	})
	require.NoError(t, err)

	n, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.True(t, injected)

	var settled model.Contract
	require.NoError(t, db.First(&settled, "id = ?", c.ID).Error)
	assert.Equal(t, model.StatusSettled, settled.Status)

	// 结算只套用自己的增量: 插进来的 100 冻结必须还在账上
	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(920)), "available = %s", acc.Available)
	assert.True(t, acc.Frozen.Equal(decimal.NewFromInt(100)), "frozen = %s", acc.Frozen)
	assert.True(t, acc.Total().Equal(decimal.NewFromInt(1020)))
}

func TestSettleDue_PolicyReadFailureSkipsContract(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	settleSvc := NewSettlementService(db, prices, nil, nil, trading, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionUp, "100")

	// 策略表不可读时不允许静默降级成按真实行情结算, 留给下一轮扫描重试
	require.NoError(t, db.Migrator().DropTable(&model.SettlementPolicy{}))

	n, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var stored model.Contract
	require.NoError(t, db.First(&stored, "id = ?", c.ID).Error)
	assert.Equal(t, model.StatusPending, stored.Status)

	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Frozen.Equal(decimal.NewFromInt(100)))
}

func TestSettleDue_SkipsNotDue(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	settleSvc := NewSettlementService(db, prices, nil, nil, trading, nil)

	c, err := placeSvc.PlaceContract(context.Background(), 1, domain.PlaceContractRequest{
		Symbol:          "BTCUSDT",
		Direction:       model.DirectionUp,
		Amount:          decimal.NewFromInt(100),
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	n, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var stored model.Contract
	require.NoError(t, db.First(&stored, "id = ?", c.ID).Error)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestSettleDue_NoQuoteSettlesAtEntry(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	settleSvc := NewSettlementService(db, prices, nil, nil, trading, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionUp, "100")

	// 结算时行情消失: 按入场价结算, 走平判输
	delete(prices, "BTCUSDT")

	_, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)

	var settled model.Contract
	require.NoError(t, db.First(&settled, "id = ?", c.ID).Error)
	assert.Equal(t, model.ResultLose, settled.Result)
	assert.True(t, settled.FinalPrice.Equal(settled.EntryPrice))
}

func TestSettleDue_PushFailureDoesNotBlockSettlement(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	trading := testTrading()

	placeSvc := NewPlacementService(db, prices, trading, nil)
	pub := &fakePublisher{err: errors.New("redis gone")}
	settleSvc := NewSettlementService(db, prices, pub, nil, trading, nil)

	c := placeDue(t, db, placeSvc, 1, model.DirectionUp, "100")
	prices["BTCUSDT"] = "50100"

	n, err := settleSvc.SettleDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 推送失败不回滚结算, 兜底回读会补偿
	var settled model.Contract
	require.NoError(t, db.First(&settled, "id = ?", c.ID).Error)
	assert.Equal(t, model.StatusSettled, settled.Status)
}
