package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"updowntrade.com/internal/domain"
	"updowntrade.com/internal/model"
)

func TestPlaceContract_FreezesStakeAndCreatesContract(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	svc := NewPlacementService(db, prices, testTrading(), nil)

	before := time.Now()
	c, err := svc.PlaceContract(context.Background(), 1, domain.PlaceContractRequest{
		Symbol:          "BTCUSDT",
		Direction:       model.DirectionUp,
		Amount:          decimal.NewFromInt(100),
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.Equal(t, uint(1), c.OwnerID)
	assert.Equal(t, model.StatusPending, c.Status)
	assert.Equal(t, "USDT", c.Currency)
	assert.True(t, c.EntryPrice.Equal(decimal.NewFromInt(50000)), "entry price snapshots the quote at placement")
	assert.True(t, c.YieldRate.Equal(decimal.NewFromFloat(0.20)), "yield rate snapshots the tier at placement")
	assert.WithinDuration(t, before.Add(60*time.Second), c.DueAt, 2*time.Second)

	// 本金从可用转入冻结, 总额不变
	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(900)), "available = %s", acc.Available)
	assert.True(t, acc.Frozen.Equal(decimal.NewFromInt(100)), "frozen = %s", acc.Frozen)
	assert.True(t, acc.Total().Equal(decimal.NewFromInt(1000)))

	// 落库的合约可回读
	stored, err := svc.GetContract(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, model.OverrideNone, stored.Override)
}

func TestPlaceContract_ValidationFailures(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "1000")
	prices := staticPrices{"BTCUSDT": "50000"}
	svc := NewPlacementService(db, prices, testTrading(), nil)

	base := domain.PlaceContractRequest{
		Symbol:          "BTCUSDT",
		Direction:       model.DirectionUp,
		Amount:          decimal.NewFromInt(100),
		DurationSeconds: 60,
	}

	tests := []struct {
		name   string
		mutate func(*domain.PlaceContractRequest)
	}{
		{"invalid direction", func(r *domain.PlaceContractRequest) { r.Direction = "sideways" }},
		{"unknown duration", func(r *domain.PlaceContractRequest) { r.DurationSeconds = 42 }},
		{"amount below tier minimum", func(r *domain.PlaceContractRequest) { r.Amount = decimal.NewFromInt(5) }},
		{"amount above tier maximum", func(r *domain.PlaceContractRequest) { r.Amount = decimal.NewFromInt(20000) }},
		{"no quote for symbol", func(r *domain.PlaceContractRequest) { r.Symbol = "DOGEUSDT" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)

			_, err := svc.PlaceContract(context.Background(), 1, req)
			require.Error(t, err)

			var appErr *domain.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, 400, appErr.Code)
		})
	}

	// 所有失败路径都不触碰余额, 不留合约
	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(1000)))
	assert.True(t, acc.Frozen.Equal(decimal.Zero))

	var count int64
	require.NoError(t, db.Model(&model.Contract{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPlaceContract_InsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "50")
	prices := staticPrices{"BTCUSDT": "50000"}
	svc := NewPlacementService(db, prices, testTrading(), nil)

	_, err := svc.PlaceContract(context.Background(), 1, domain.PlaceContractRequest{
		Symbol:          "BTCUSDT",
		Direction:       model.DirectionDown,
		Amount:          decimal.NewFromInt(100),
		DurationSeconds: 60,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	acc := reloadAccount(t, db, 1)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(50)))
	assert.True(t, acc.Frozen.Equal(decimal.Zero))
}

func TestPlaceContract_NoAccount(t *testing.T) {
	db := newTestDB(t)
	prices := staticPrices{"BTCUSDT": "50000"}
	svc := NewPlacementService(db, prices, testTrading(), nil)

	_, err := svc.PlaceContract(context.Background(), 7, domain.PlaceContractRequest{
		Symbol:          "BTCUSDT",
		Direction:       model.DirectionUp,
		Amount:          decimal.NewFromInt(100),
		DurationSeconds: 60,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestGetContracts_PaginatesNewestFirst(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 1, "10000")
	prices := staticPrices{"BTCUSDT": "50000"}
	svc := NewPlacementService(db, prices, testTrading(), nil)

	for i := 0; i < 5; i++ {
		_, err := svc.PlaceContract(context.Background(), 1, domain.PlaceContractRequest{
			Symbol:          "BTCUSDT",
			Direction:       model.DirectionUp,
			Amount:          decimal.NewFromInt(100),
			DurationSeconds: 60,
		})
		require.NoError(t, err)
	}

	page, total, err := svc.GetContracts(context.Background(), 1, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 3)

	// 其他用户看不到
	page, total, err = svc.GetContracts(context.Background(), 2, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}

func TestGetContract_NotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewPlacementService(db, staticPrices{}, testTrading(), nil)

	_, err := svc.GetContract(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
