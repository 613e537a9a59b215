package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"poolwatch/internal/domain"

	"github.com/shopspring/decimal"
)

// TemplateGenerator renders the snapshot deterministically. Address goes first so truncation keeps it.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, aw *domain.ActivityWindow) (string, error) {
	if aw == nil || aw.Pool == "" {
		return "", errors.New("empty activity snapshot")
	}

	kind := "Pair"
	if aw.Variant == domain.VariantConcentratedLiquidity {
		kind = "Pool"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s High Activity Alert! %s on %s\n", icon(aw.Variant), aw.Variant.Tag(), aw.Chain)
	fmt.Fprintf(&b, "%s: %s\n", kind, aw.Pool)
	fmt.Fprintf(&b, "%s / %s", aw.Token0, aw.Token1)
	if aw.Fee != nil {
		fmt.Fprintf(&b, " (%s%% fee)", decimal.New(int64(*aw.Fee), -4).String())
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "📊 %s trades in 24h (%s buys / %s sells)\n",
		groupThousands(aw.TotalSwaps), groupThousands(aw.BuyCount), groupThousands(aw.SellCount))
	fmt.Fprintf(&b, "💰 Volume: %s token0 / %s token1", aw.Token0Volume.String(), aw.Token1Volume.String())

	return b.String(), nil
}

func groupThousands(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
