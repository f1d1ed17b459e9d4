package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction defines which way the user bets the price will move.
type Direction string

const (
	DirectionUp   Direction = "up"   // 买涨
	DirectionDown Direction = "down" // 买跌
)

// Valid reports whether the direction is one of the two supported values.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// ContractStatus defines the lifecycle status of a contract.
// The only transition is pending -> settled, applied at most once.
type ContractStatus string

const (
	StatusPending ContractStatus = "pending" // 进行中, 资金已冻结
	StatusSettled ContractStatus = "settled" // 已结算, 终态
)

// Result is the settled outcome of a contract.
type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
)

// Override 单合约的运营强制结果
// 优先级: 单合约覆盖 > 全局策略 > 真实行情
type Override string

const (
	OverrideNone Override = ""     // 未设置
	OverrideReal Override = "real" // 显式按真实行情结算
	OverrideWin  Override = "win"
	OverrideLose Override = "lose"
)

// Valid reports whether the override is settable by an operator.
func (o Override) Valid() bool {
	return o == OverrideReal || o == OverrideWin || o == OverrideLose
}

// Contract represents one timed, directional stake on an asset's price.
type Contract struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"ID"`
	OwnerID uint      `gorm:"index;not null" json:"OwnerID"`

	// 合约条款, 创建后不可变
	Symbol          string          `gorm:"index;type:varchar(32);not null" json:"Symbol"`
	Direction       Direction       `gorm:"type:varchar(8);not null" json:"Direction"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"Amount"`
	Currency        string          `gorm:"type:varchar(16);not null" json:"Currency"`
	EntryPrice      decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"EntryPrice"`
	DurationSeconds int             `gorm:"not null" json:"DurationSeconds"`
	YieldRate       decimal.Decimal `gorm:"type:numeric(10,4);not null" json:"YieldRate"`

	Status ContractStatus `gorm:"type:varchar(8);index;default:'pending'" json:"Status"`

	// 结算结果, 仅在 settled 后有效
	Result     Result          `gorm:"type:varchar(8)" json:"Result,omitempty"`
	FinalPrice decimal.Decimal `gorm:"type:numeric(20,8)" json:"FinalPrice"`
	Profit     decimal.Decimal `gorm:"type:numeric(20,8)" json:"Profit"`

	// 运营覆盖
	Override Override `gorm:"type:varchar(8);default:''" json:"Override,omitempty"`

	CreatedAt time.Time  `json:"CreatedAt"`
	DueAt     time.Time  `gorm:"index;not null" json:"DueAt"`
	SettledAt *time.Time `json:"SettledAt,omitempty"`
}

// Settled reports whether the contract has reached its terminal state.
func (c *Contract) Settled() bool {
	return c.Status == StatusSettled
}
