package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

// setupTestDB opens a fresh migrated sqlite file per test
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), newTestLogger(), &config.DatabaseConfig{
		SQLitePath: filepath.Join(t.TempDir(), "poolwatch.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func v2Pool(addr string, ts time.Time) domain.PoolRecord {
	return domain.PoolRecord{
		Chain:          domain.ChainEthereum,
		Variant:        domain.VariantConstantProduct,
		Address:        addr,
		Token0:         "0x00000000000000000000000000000000000000a0",
		Token1:         "0x00000000000000000000000000000000000000a1",
		BlockNumber:    100,
		BlockTimestamp: ts,
		TxHash:         "0xcreate" + addr,
	}
}

func v3Pool(addr string, ts time.Time) domain.PoolRecord {
	fee := uint32(3000)
	tick := int32(60)
	p := v2Pool(addr, ts)
	p.Variant = domain.VariantConcentratedLiquidity
	p.Fee = &fee
	p.TickSpacing = &tick
	return p
}

func v2Swap(pool, tx string, idx uint32, ts time.Time, a0in, a1in, a0out, a1out string) domain.SwapEvent {
	return domain.SwapEvent{
		Chain:   domain.ChainEthereum,
		Variant: domain.VariantConstantProduct,
		Pool:    pool,
		V2: &domain.V2Amounts{
			Amount0In:  decimal.RequireFromString(a0in),
			Amount1In:  decimal.RequireFromString(a1in),
			Amount0Out: decimal.RequireFromString(a0out),
			Amount1Out: decimal.RequireFromString(a1out),
		},
		BlockNumber:    200,
		BlockTimestamp: ts,
		TxHash:         tx,
		LogIndex:       idx,
	}
}

func v3Swap(pool, tx string, idx uint32, ts time.Time, a0, a1 string) domain.SwapEvent {
	return domain.SwapEvent{
		Chain:   domain.ChainEthereum,
		Variant: domain.VariantConcentratedLiquidity,
		Pool:    pool,
		V3: &domain.V3Amounts{
			Amount0:      decimal.RequireFromString(a0),
			Amount1:      decimal.RequireFromString(a1),
			SqrtPriceX96: "79228162514264337593543950336",
			Liquidity:    "1000000",
			Tick:         -12,
		},
		BlockNumber:    200,
		BlockTimestamp: ts,
		TxHash:         tx,
		LogIndex:       idx,
	}
}
