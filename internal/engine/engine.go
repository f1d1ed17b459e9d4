package engine

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/constants"
	"updowntrade.com/internal/event"
	"updowntrade.com/internal/infra"
	"updowntrade.com/internal/model"
	"updowntrade.com/internal/reconcile"
	"updowntrade.com/internal/service"
)

// Engine 串联下单、对账与结算的核心协调器
// 持有全部服务实例, 负责行情接入、合约看护与结算扫描的生命周期
type Engine struct {
	cfg *config.Config
	db  *gorm.DB
	rdb *redis.Client

	bus    *event.Bus
	prices *infra.PriceBoard
	wsHub  *infra.WsManager

	placement  *service.PlacementServiceImpl
	settlement *service.SettlementServiceImpl
	admin      *service.AdminServiceImpl

	manager *reconcile.Manager

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine 创建引擎并组装所有服务
func NewEngine(cfg *config.Config, db *gorm.DB, rdb *redis.Client, wsHub *infra.WsManager) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	bus := event.NewBus(256)
	prices := infra.NewPriceBoard()

	e := &Engine{
		cfg:    cfg,
		db:     db,
		rdb:    rdb,
		bus:    bus,
		prices: prices,
		wsHub:  wsHub,
		ctx:    ctx,
		cancel: cancel,
	}

	e.placement = service.NewPlacementService(db, prices, &cfg.Trading, bus)
	e.settlement = service.NewSettlementService(
		db,
		prices,
		infra.NewRedisContractPublisher(rdb),
		infra.NewRedisLockManager(rdb),
		&cfg.Trading,
		bus,
	)
	e.admin = service.NewAdminService(db, bus)

	// 下单服务兼任合约回读, 结算服务兼任到期触发
	e.manager = reconcile.NewManager(e.placement, e.settlement, e, reconcile.Config{
		TickInterval:  time.Second,
		FallbackDelay: cfg.Trading.FallbackDelay(),
		FallbackMax:   cfg.Trading.FallbackMax(),
	})

	return e
}

// Start 启动引擎: 行情订阅、推送订阅、到期扫描与未结算合约恢复
func (e *Engine) Start() error {
	go e.wsHub.Start()

	// 新下的合约立即进入对账看护
	e.bus.Subscribe(constants.EventContractPlaced, func(_ context.Context, ev event.Event) error {
		if c, ok := ev.Data.(model.Contract); ok {
			e.manager.Watch(c)
		}
		return nil
	})

	// 本进程结算的合约走进程内快路径, 不等 Redis 往返
	e.bus.Subscribe(constants.EventContractSettled, func(_ context.Context, ev event.Event) error {
		if c, ok := ev.Data.(model.Contract); ok {
			e.manager.Deliver(c)
		}
		return nil
	})

	infra.StartMarketDataSubscriber(e.rdb, e.ctx)
	go e.runMarketDataLoop()

	// 其他实例结算的合约由推送通道送达
	infra.StartContractUpdateSubscriber(e.rdb, e.ctx, e.manager.Deliver)

	go e.runSweeper()

	if err := e.recoverPending(); err != nil {
		return err
	}

	log.Println("Engine: started")
	return nil
}

// Stop 停止引擎, 等待所有对账协程退出
func (e *Engine) Stop() {
	e.cancel()
	e.manager.Stop()
	e.bus.Shutdown()
	log.Println("Engine: stopped")
}

// recoverPending 进程重启后恢复所有未结算合约的看护
// 已到期的合约由看护自身的到期路径立即触发结算
func (e *Engine) recoverPending() error {
	var pending []model.Contract
	if err := e.db.Where("status = ?", model.StatusPending).Find(&pending).Error; err != nil {
		return err
	}

	for _, c := range pending {
		e.manager.Watch(c)
	}

	if len(pending) > 0 {
		log.Printf("Engine: recovered %d pending contract(s)", len(pending))
	}
	return nil
}

// runMarketDataLoop 消费行情通道: 更新价格板并广播给订阅的前端
func (e *Engine) runMarketDataLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case tick := <-infra.MarketTickChan:
			e.prices.Set(tick.Symbol, tick.Price)
			e.wsHub.Broadcast(tick.Symbol, map[string]interface{}{
				"type": "market_tick",
				"data": tick,
			})
		}
	}
}

// runSweeper 周期扫描到期未结算的合约, 独立于单合约看护兜底
func (e *Engine) runSweeper() {
	ticker := time.NewTicker(e.cfg.Trading.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.settlement.SettleDue(e.ctx); err != nil {
				log.Printf("Engine: sweep failed: %v", err)
			}
		}
	}
}

// OnCountdown implements reconcile.Sink.
func (e *Engine) OnCountdown(c *model.Contract, remaining int) {
	e.wsHub.PushToUser(ownerKey(c), map[string]interface{}{
		"type": "contract_countdown",
		"data": map[string]interface{}{
			"ContractID":       c.ID,
			"RemainingSeconds": remaining,
		},
	})
}

// OnExpired implements reconcile.Sink.
func (e *Engine) OnExpired(c *model.Contract) {
	e.wsHub.PushToUser(ownerKey(c), map[string]interface{}{
		"type": "contract_expired",
		"data": c,
	})
	e.bus.Publish(event.Event{
		Type:   constants.EventContractExpired,
		Source: "engine",
		Data:   *c,
	})
}

// OnSettled implements reconcile.Sink.
func (e *Engine) OnSettled(c *model.Contract) {
	e.wsHub.PushToUser(ownerKey(c), map[string]interface{}{
		"type": "contract_settled",
		"data": c,
	})
}

func ownerKey(c *model.Contract) string {
	return strconv.FormatUint(uint64(c.OwnerID), 10)
}

// Placement 下单服务
func (e *Engine) Placement() *service.PlacementServiceImpl { return e.placement }

// Settlement 结算服务
func (e *Engine) Settlement() *service.SettlementServiceImpl { return e.settlement }

// Admin 运营服务
func (e *Engine) Admin() *service.AdminServiceImpl { return e.admin }

// Bus 事件总线
func (e *Engine) Bus() *event.Bus { return e.bus }

// Prices 最新价格板
func (e *Engine) Prices() *infra.PriceBoard { return e.prices }

var _ reconcile.Sink = (*Engine)(nil)
