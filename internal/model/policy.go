package model

import "time"

// PolicyMode 全局结算策略模式
// win/lose 时, 未设置单合约覆盖的合约按该结果结算, 忽略真实行情
type PolicyMode string

const (
	PolicyNone PolicyMode = "none"
	PolicyWin  PolicyMode = "win"
	PolicyLose PolicyMode = "lose"
)

// Valid reports whether the mode is settable by an operator.
func (m PolicyMode) Valid() bool {
	return m == PolicyNone || m == PolicyWin || m == PolicyLose
}

// PolicyRowID 全局策略为单行记录, 固定主键
const PolicyRowID uint = 1

// SettlementPolicy is the operator-controlled global settlement policy.
// It is read fresh at settlement time, never snapshotted at placement.
type SettlementPolicy struct {
	ID        uint       `gorm:"primaryKey" json:"ID"`
	Mode      PolicyMode `gorm:"type:varchar(8);default:'none'" json:"Mode"`
	UpdatedAt time.Time  `json:"UpdatedAt"`
}
