package constants

// 事件类型常量
const (
	// 合约生命周期事件
	EventContractPlaced  = "contract.placed"
	EventContractExpired = "contract.expired"
	EventContractSettled = "contract.settled"

	// 运营事件
	EventPolicyUpdated  = "policy.updated"
	EventOverrideSet    = "override.set"
	EventBalanceChanged = "balance.changed"

	// 行情事件
	EventMarketTick = "market.tick"
)
