package clickhouse

import (
	"context"
	"testing"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
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

func TestFromSwap_V2NetAmounts(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	ev := &domain.SwapEvent{
		Chain:   domain.ChainEthereum,
		Variant: domain.VariantConstantProduct,
		Pool:    "0xpair",
		V2: &domain.V2Amounts{
			Amount0In:  decimal.Zero,
			Amount1In:  decimal.RequireFromString("1000"),
			Amount0Out: decimal.RequireFromString("250"),
			Amount1Out: decimal.Zero,
		},
		BlockNumber:    19_000_000,
		BlockTimestamp: ts,
		TxHash:         "0xABC",
		LogIndex:       7,
	}

	row := FromSwap(ev)

	assert.Equal(t, "-250", row.Amount0)
	assert.Equal(t, "1000", row.Amount1)
	assert.Equal(t, "ethereum:v2:0xabc:7", row.EventID)
	assert.Equal(t, ts.UTC(), row.EventTime)
	assert.Equal(t, uint16(schemaVersion), row.SchemaVersion)
}

func TestFromSwap_V3SignedAmounts(t *testing.T) {
	ev := &domain.SwapEvent{
		Chain:   domain.ChainBase,
		Variant: domain.VariantConcentratedLiquidity,
		Pool:    "0xpool",
		V3: &domain.V3Amounts{
			Amount0: decimal.RequireFromString("-5.5"),
			Amount1: decimal.RequireFromString("12"),
		},
		BlockTimestamp: time.Now(),
	}

	row := FromSwap(ev)

	assert.Equal(t, "-5.5", row.Amount0)
	assert.Equal(t, "12", row.Amount1)
	assert.Equal(t, "v3", row.Variant)
}

func TestWriter_EnqueueAfterClose(t *testing.T) {
	w := NewWriter(newTestLogger(), nil, config.ClickHouseConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx), "close is idempotent")

	err := w.Enqueue(RawSwapRow{})
	assert.ErrorIs(t, err, ErrWriterClosed)
}
