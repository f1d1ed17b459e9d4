package constants

// Redis Pub/Sub 频道
const (
	// RedisChannelMarketPrefix 行情推送频道前缀, 完整频道为 market.<symbol>
	RedisChannelMarketPrefix = "market."

	// RedisChannelContractPrefix 合约变更推送频道前缀, 完整频道为 contract.<ownerID>
	RedisChannelContractPrefix = "contract."
)

// Redis 分布式锁的 key
const (
	// RedisKeySweepLock 结算扫描锁, 保证多实例下同一时刻只有一个扫描者
	RedisKeySweepLock = "settlement.sweep"
)
