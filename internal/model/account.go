package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 用户在某货币下的资金账户
// Available 是可用余额, Frozen 是下单后冻结的保证金
// 只有下单 (冻结) 和结算 (解冻+损益) 两个写入方
type Account struct {
	ID       uint   `gorm:"primaryKey" json:"ID"`
	UserID   uint   `gorm:"uniqueIndex:idx_owner_currency;not null" json:"UserID"`
	Currency string `gorm:"uniqueIndex:idx_owner_currency;type:varchar(16);not null" json:"Currency"`

	Available decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"Available"`
	Frozen    decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"Frozen"`

	UpdatedAt time.Time `json:"UpdatedAt"`
}

// Total 可用+冻结, 在下单和结算之间除净损益外必须守恒
func (a *Account) Total() decimal.Decimal {
	return a.Available.Add(a.Frozen)
}
