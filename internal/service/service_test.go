package service

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/model"
)

// newTestDB 每个测试一个内存库, 跑与生产相同的迁移
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// :memory: 是按连接隔离的, 限制连接池避免拿到空库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Account{},
		&model.Contract{},
		&model.SettlementPolicy{},
	))

	return db
}

// staticPrices is a fixed quote table implementing domain.PriceSource.
type staticPrices map[string]string

func (p staticPrices) LastPrice(symbol string) (decimal.Decimal, bool) {
	s, ok := p[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.RequireFromString(s), true
}

func testTrading() *config.TradingConfig {
	return &config.TradingConfig{
		Currency: "USDT",
		Tiers: []config.DurationTier{
			{Seconds: 60, MinAmount: 10, MaxAmount: 10000, YieldRate: 0.20},
			{Seconds: 300, MinAmount: 10, MaxAmount: 50000, YieldRate: 0.50},
		},
		ForcedPriceOffset: 1.0,
	}
}

func seedAccount(t *testing.T, db *gorm.DB, userID uint, available string) model.Account {
	t.Helper()
	acc := model.Account{
		UserID:    userID,
		Currency:  "USDT",
		Available: decimal.RequireFromString(available),
		Frozen:    decimal.Zero,
	}
	require.NoError(t, db.Create(&acc).Error)
	return acc
}

func reloadAccount(t *testing.T, db *gorm.DB, userID uint) model.Account {
	t.Helper()
	var acc model.Account
	require.NoError(t, db.Where("user_id = ? AND currency = ?", userID, "USDT").First(&acc).Error)
	return acc
}
