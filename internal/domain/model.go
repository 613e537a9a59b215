package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
)

// Protocol variant of a pool. Every activity record carries one.
type Variant string

const (
	VariantConstantProduct       Variant = "v2"
	VariantConcentratedLiquidity Variant = "v3"
)

var Variants = []Variant{VariantConstantProduct, VariantConcentratedLiquidity}

func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantConstantProduct:
		return VariantConstantProduct, nil
	case VariantConcentratedLiquidity:
		return VariantConcentratedLiquidity, nil
	default:
		return "", fmt.Errorf("%w: unknown protocol variant %q", ErrValidation, s)
	}
}

// Tag used in alerts, example "V2"
func (v Variant) Tag() string {
	return strings.ToUpper(string(v))
}

// PoolRecord is created on the first observed creation event and never changes
type PoolRecord struct {
	Chain          Chain
	Variant        Variant
	Address        string // lowercased
	Token0         string
	Token1         string
	Fee            *uint32 // v3 only
	TickSpacing    *int32  // v3 only
	BlockNumber    uint64
	BlockTimestamp time.Time
	TxHash         string
}

// Unsigned in/out pairs (constant-product)
type V2Amounts struct {
	Amount0In  decimal.Decimal
	Amount1In  decimal.Decimal
	Amount0Out decimal.Decimal
	Amount1Out decimal.Decimal
}

// Signed per-token amounts from the pool's perspective (concentrated-liquidity)
type V3Amounts struct {
	Amount0      decimal.Decimal
	Amount1      decimal.Decimal
	SqrtPriceX96 string
	Liquidity    string
	Tick         int32
}

// SwapEvent identity = (chain, variant, tx hash, log index). Exactly one of V2/V3 is set, matching Variant.
type SwapEvent struct {
	Chain          Chain
	Variant        Variant
	Pool           string
	Sender         string
	Recipient      string
	V2             *V2Amounts
	V3             *V3Amounts
	BlockNumber    uint64
	BlockTimestamp time.Time
	TxHash         string
	LogIndex       uint32
}

// ActivityWindow is the trailing-24h aggregate for one pool. Derived per query, never stored.
type ActivityWindow struct {
	Chain        Chain
	Variant      Variant
	Pool         string
	Token0       string
	Token1       string
	Fee          *uint32
	TotalSwaps   uint64
	BuyCount     uint64
	SellCount    uint64
	Token0Volume decimal.Decimal
	Token1Volume decimal.Decimal
	WindowStart  time.Time
	WindowEnd    time.Time
}

// AlertRecord: at most one per (chain, address)
type AlertRecord struct {
	Chain         Chain
	Address       string
	Variant       Variant
	Token0        string
	Token1        string
	TradeCount    uint64
	Fee           *uint32
	FirstPostedAt time.Time
}

// PendingAlert lives only in the delivery queue, lost on restart
type PendingAlert struct {
	ID         string
	Chain      Chain
	Variant    Variant
	Pool       string
	Text       string
	Attempts   int
	EnqueuedAt time.Time
}
