package infra

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"updowntrade.com/internal/constants"
	"updowntrade.com/internal/domain"
	"updowntrade.com/internal/model"
)

// MarketTick is one price update from the external feed.
type MarketTick struct {
	Symbol string          `json:"Symbol"`
	Price  decimal.Decimal `json:"Price"`
}

// MarketTickChan buffers ticks from Redis towards the engine.
var MarketTickChan = make(chan MarketTick, 1000)

// StartMarketDataSubscriber starts a goroutine subscribing to the external
// price feed on market.<symbol> channels.
func StartMarketDataSubscriber(rdb *redis.Client, ctx context.Context) {
	pubsub := rdb.PSubscribe(ctx, constants.RedisChannelMarketPrefix+"*")

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Fatalf("Failed to subscribe to market data: %v", err)
	}

	ch := pubsub.Channel()

	// 引擎停止时关闭订阅, 消息通道随之关闭, 消费协程退出
	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()

	go func() {
		log.Println("Started Market Data Subscriber Loop")
		for msg := range ch {
			symbol := strings.TrimPrefix(msg.Channel, constants.RedisChannelMarketPrefix)

			var tick MarketTick
			if err := json.Unmarshal([]byte(msg.Payload), &tick); err != nil {
				log.Printf("MarketData: bad tick payload on %s: %v", msg.Channel, err)
				continue
			}
			tick.Symbol = symbol

			select {
			case MarketTickChan <- tick:
			default:
				log.Println("Warning: MarketTickChan is full, dropping tick")
			}
		}
	}()
}

// StartContractUpdateSubscriber starts a goroutine subscribing to the contract
// push channel (contract.<ownerID>). Every settlement write publishes the full
// updated record there; the sink feeds the reconcilers.
// 推送不保证送达, 兜底回读负责补漏
func StartContractUpdateSubscriber(rdb *redis.Client, ctx context.Context, sink func(model.Contract)) {
	pubsub := rdb.PSubscribe(ctx, constants.RedisChannelContractPrefix+"*")

	if _, err := pubsub.Receive(ctx); err != nil {
		log.Fatalf("Failed to subscribe to contract updates: %v", err)
	}

	ch := pubsub.Channel()

	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()

	go func() {
		log.Println("Started Contract Update Subscriber Loop")
		for msg := range ch {
			var c model.Contract
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				log.Printf("ContractUpdate: bad payload on %s: %v", msg.Channel, err)
				continue
			}
			sink(c)
		}
	}()
}

// RedisContractPublisher implements domain.ContractPublisher over Redis Pub/Sub.
type RedisContractPublisher struct {
	rdb *redis.Client
}

func NewRedisContractPublisher(rdb *redis.Client) *RedisContractPublisher {
	return &RedisContractPublisher{rdb: rdb}
}

// PublishContractUpdate 按 ownerID 分频道发布合约全量记录
func (p *RedisContractPublisher) PublishContractUpdate(ctx context.Context, c *model.Contract) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	channel := constants.RedisChannelContractPrefix + strconv.FormatUint(uint64(c.OwnerID), 10)
	return p.rdb.Publish(ctx, channel, data).Err()
}

var _ domain.ContractPublisher = (*RedisContractPublisher)(nil)
