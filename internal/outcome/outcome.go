// Package outcome resolves the effective settlement result of a contract.
//
// 优先级: 单合约覆盖 (win/lose) > 全局策略 (win/lose) > 真实行情比较
// 纯函数, 输入是两层覆盖与行情的不可变快照, 便于独立于存储测试
package outcome

import (
	"github.com/shopspring/decimal"
	"updowntrade.com/internal/model"
)

// Input is an immutable snapshot of everything settlement needs.
type Input struct {
	Direction model.Direction
	Override  model.Override
	Policy    model.PolicyMode

	EntryPrice  decimal.Decimal
	MarketPrice decimal.Decimal // 结算时刻的真实行情价

	Amount    decimal.Decimal
	YieldRate decimal.Decimal

	// ForcedOffset 强制结果时合成最终价相对入场价的固定偏移
	ForcedOffset decimal.Decimal
}

// Outcome is the permanent settlement verdict.
type Outcome struct {
	Result     model.Result
	FinalPrice decimal.Decimal
	Profit     decimal.Decimal
}

// Resolve computes the settled result, final price and profit for a contract.
// It must be evaluated exactly once per contract, at or after its due time.
func Resolve(in Input) Outcome {
	result, forced := effectiveResult(in.Override, in.Policy)

	var final decimal.Decimal
	if forced {
		final = syntheticPrice(in.Direction, result, in.EntryPrice, in.ForcedOffset)
	} else {
		final = in.MarketPrice
		result = realResult(in.Direction, in.EntryPrice, final)
	}

	return Outcome{
		Result:     result,
		FinalPrice: final,
		Profit:     profit(result, in.Amount, in.YieldRate),
	}
}

// effectiveResult applies the two override layers.
// 单合约覆盖为 real 或未设置时才轮到全局策略
func effectiveResult(ov model.Override, mode model.PolicyMode) (model.Result, bool) {
	switch ov {
	case model.OverrideWin:
		return model.ResultWin, true
	case model.OverrideLose:
		return model.ResultLose, true
	}
	switch mode {
	case model.PolicyWin:
		return model.ResultWin, true
	case model.PolicyLose:
		return model.ResultLose, true
	}
	return "", false
}

// realResult compares the market price against entry.
// 价格不动视为输 (方向没有走出来)
func realResult(dir model.Direction, entry, final decimal.Decimal) model.Result {
	switch dir {
	case model.DirectionUp:
		if final.GreaterThan(entry) {
			return model.ResultWin
		}
	case model.DirectionDown:
		if final.LessThan(entry) {
			return model.ResultWin
		}
	}
	return model.ResultLose
}

// syntheticPrice derives a final price consistent with a forced result:
// a forced win lands on the winning side of entry for the contract's
// direction, a forced loss on the losing side.
func syntheticPrice(dir model.Direction, result model.Result, entry, offset decimal.Decimal) decimal.Decimal {
	up := dir == model.DirectionUp
	won := result == model.ResultWin
	if up == won {
		return entry.Add(offset)
	}
	return entry.Sub(offset)
}

func profit(result model.Result, amount, yield decimal.Decimal) decimal.Decimal {
	if result == model.ResultWin {
		return amount.Mul(yield)
	}
	return amount.Neg()
}
