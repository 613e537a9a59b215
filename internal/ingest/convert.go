package ingest

import (
	"fmt"
	"time"

	"poolwatch/internal/domain"

	"github.com/shopspring/decimal"
)

func pairToPool(chain domain.Chain, p *domain.PairCreation) domain.PoolRecord {
	return domain.PoolRecord{
		Chain:          chain,
		Variant:        domain.VariantConstantProduct,
		Address:        domain.NormalizeAddress(p.Pair),
		Token0:         domain.NormalizeAddress(p.Token0),
		Token1:         domain.NormalizeAddress(p.Token1),
		BlockNumber:    p.BlockNumber,
		BlockTimestamp: time.Unix(p.BlockTimestamp, 0).UTC(),
		TxHash:         domain.NormalizeHash(p.TransactionHash),
	}
}

func poolCreationToPool(chain domain.Chain, p *domain.PoolCreation) domain.PoolRecord {
	fee, tick := p.Fee, p.TickSpacing
	return domain.PoolRecord{
		Chain:          chain,
		Variant:        domain.VariantConcentratedLiquidity,
		Address:        domain.NormalizeAddress(p.Pool),
		Token0:         domain.NormalizeAddress(p.Token0),
		Token1:         domain.NormalizeAddress(p.Token1),
		Fee:            &fee,
		TickSpacing:    &tick,
		BlockNumber:    p.BlockNumber,
		BlockTimestamp: time.Unix(p.BlockTimestamp, 0).UTC(),
		TxHash:         domain.NormalizeHash(p.TransactionHash),
	}
}

func swapV2ToEvent(chain domain.Chain, s *domain.SwapV2) (domain.SwapEvent, error) {
	var amounts domain.V2Amounts
	for _, f := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"amount0In", s.Amount0In, &amounts.Amount0In},
		{"amount1In", s.Amount1In, &amounts.Amount1In},
		{"amount0Out", s.Amount0Out, &amounts.Amount0Out},
		{"amount1Out", s.Amount1Out, &amounts.Amount1Out},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return domain.SwapEvent{}, fmt.Errorf("%w: swap %s:%d %s=%q", domain.ErrValidation, s.TransactionHash, s.LogIndex, f.name, f.src)
		}
		*f.dst = d
	}

	return domain.SwapEvent{
		Chain:          chain,
		Variant:        domain.VariantConstantProduct,
		Pool:           domain.NormalizeAddress(s.Pair),
		Sender:         domain.NormalizeAddress(s.Sender),
		Recipient:      domain.NormalizeAddress(s.To),
		V2:             &amounts,
		BlockNumber:    s.BlockNumber,
		BlockTimestamp: time.Unix(s.BlockTimestamp, 0).UTC(),
		TxHash:         domain.NormalizeHash(s.TransactionHash),
		LogIndex:       s.LogIndex,
	}, nil
}

func swapV3ToEvent(chain domain.Chain, s *domain.SwapV3) (domain.SwapEvent, error) {
	a0, err := decimal.NewFromString(s.Amount0)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("%w: swap %s:%d amount0=%q", domain.ErrValidation, s.TransactionHash, s.LogIndex, s.Amount0)
	}
	a1, err := decimal.NewFromString(s.Amount1)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("%w: swap %s:%d amount1=%q", domain.ErrValidation, s.TransactionHash, s.LogIndex, s.Amount1)
	}

	return domain.SwapEvent{
		Chain:     chain,
		Variant:   domain.VariantConcentratedLiquidity,
		Pool:      domain.NormalizeAddress(s.Pool),
		Sender:    domain.NormalizeAddress(s.Sender),
		Recipient: domain.NormalizeAddress(s.Recipient),
		V3: &domain.V3Amounts{
			Amount0:      a0,
			Amount1:      a1,
			SqrtPriceX96: s.SqrtPriceX96,
			Liquidity:    s.Liquidity,
			Tick:         s.Tick,
		},
		BlockNumber:    s.BlockNumber,
		BlockTimestamp: time.Unix(s.BlockTimestamp, 0).UTC(),
		TxHash:         domain.NormalizeHash(s.TransactionHash),
		LogIndex:       s.LogIndex,
	}, nil
}
