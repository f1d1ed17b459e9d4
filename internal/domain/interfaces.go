package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"updowntrade.com/internal/model"
)

// ===========================
// 下单服务接口
// ===========================

// PlaceContractRequest 下单参数
type PlaceContractRequest struct {
	Symbol          string
	Direction       model.Direction
	Amount          decimal.Decimal
	DurationSeconds int
}

// PlacementService 定义合约下单与查询的业务操作
// PlaceContract 不是幂等的: 失败重试会重复冻结资金, 调用方在结果不明时
// 必须先查询合约是否已创建, 不能盲目重发
type PlacementService interface {
	// 下单: 校验档位与余额, 冻结本金并创建 pending 合约 (同一事务)
	PlaceContract(ctx context.Context, ownerID uint, req PlaceContractRequest) (*model.Contract, error)
	// 获取用户合约列表
	GetContracts(ctx context.Context, ownerID uint, page, pageSize int) ([]model.Contract, int64, error)
	// 读取单个合约 (兜底回读路径也走这里)
	GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	// 获取用户资金账户
	GetAccount(ctx context.Context, ownerID uint, currency string) (*model.Account, error)
}

// ===========================
// 结算服务接口
// ===========================

// SettlementService 定义结算机构的业务操作
// SettleDue 必须幂等: 对已结算合约重复调用是 no-op, 不是错误
type SettlementService interface {
	// 扫描所有到期未结算的合约并逐个结算, 返回本次实际结算的数量
	SettleDue(ctx context.Context) (int, error)
	// 立即触发一次结算扫描, 不等待结果 (fire-and-forget)
	TriggerSettleNow()
}

// ===========================
// 运营服务接口
// ===========================

// AdminService 定义运营侧的操作
type AdminService interface {
	// 读取全局结算策略
	GetPolicy(ctx context.Context) (*model.SettlementPolicy, error)
	// 更新全局结算策略
	SetPolicy(ctx context.Context, mode model.PolicyMode) (*model.SettlementPolicy, error)
	// 设置单合约覆盖, 合约已结算时拒绝
	SetOverride(ctx context.Context, contractID uuid.UUID, override model.Override) (*model.Contract, error)
	// 给用户账户入金 (运营充值)
	Credit(ctx context.Context, userID uint, currency string, amount decimal.Decimal) (*model.Account, error)
}

// ===========================
// 推送与行情接口
// ===========================

// Notifier 定义 WebSocket 推送的接口
type Notifier interface {
	// 推送消息给某个用户的所有连接
	PushToUser(userID string, msg interface{})
	// 广播行情给订阅了该品种的连接
	Broadcast(symbol string, payload interface{})
}

// PriceSource 提供品种的最新行情价
type PriceSource interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// ContractPublisher 结算写入后向推送通道发布合约全量记录
type ContractPublisher interface {
	PublishContractUpdate(ctx context.Context, c *model.Contract) error
}

// ===========================
// 基础设施接口
// ===========================

// Locker 分布式锁, 用于多实例下串行化结算扫描
type Locker interface {
	// Acquire 返回解锁函数; 锁被他人持有时返回 ErrLockHeld
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
