package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"
	"poolwatch/internal/metrics"

	"gitlab.com/nevasik7/alerting/logger"
)

const (
	DefaultMaxChars = 280
	ellipsis        = "…"
)

// Generator produces alert text from an activity snapshot. It may fail; the composer recovers.
type Generator interface {
	Generate(ctx context.Context, aw *domain.ActivityWindow) (string, error)
}

type Composer struct {
	log      logger.Logger
	gen      Generator // nil -> fallback only
	maxChars int
}

func NewComposer(log logger.Logger, cfg *config.ComposerConfig, gen Generator) (*Composer, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the composer")
	}

	// 280 is a hard ceiling, config may only lower it
	maxChars := cfg.MaxChars
	if maxChars <= 0 || maxChars > DefaultMaxChars {
		maxChars = DefaultMaxChars
	}

	return &Composer{log: log, gen: gen, maxChars: maxChars}, nil
}

// NewGenerator builds the generator for composer.mode; "plain" returns nil
func NewGenerator(cfg *config.ComposerConfig) (Generator, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the generator")
	}

	switch strings.ToLower(cfg.Mode) {
	case "", "template":
		return TemplateGenerator{}, nil
	case "llm":
		return NewLLMGenerator(&cfg.LLM)
	case "plain":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown composer mode %q", cfg.Mode)
	}
}

// Compose never fails: a generation error, an empty text or a text that lost the pool address
// all produce the fallback. Result is at most maxChars runes.
func (c *Composer) Compose(ctx context.Context, aw *domain.ActivityWindow) string {
	if c.gen != nil {
		text, err := c.generate(ctx, aw)
		if err == nil {
			return text
		}
		metrics.ComposeFallbacks.WithLabelValues(string(aw.Chain), string(aw.Variant)).Inc()
		c.log.Warnf("Compose %s/%s %s recovered with fallback: %v", aw.Chain, aw.Variant, aw.Pool, err)
	}

	return Truncate(Fallback(aw.Variant, aw.Pool), c.maxChars)
}

func (c *Composer) generate(ctx context.Context, aw *domain.ActivityWindow) (string, error) {
	text, err := c.gen.Generate(ctx, aw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrComposition, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", domain.ErrComposition)
	}

	text = Truncate(text, c.maxChars)
	if !strings.Contains(strings.ToLower(text), strings.ToLower(aw.Pool)) {
		return "", fmt.Errorf("%w: text does not reference pool %s", domain.ErrComposition, aw.Pool)
	}

	return text, nil
}

// Fallback holds only the protocol tag and pool address
func Fallback(variant domain.Variant, pool string) string {
	return fmt.Sprintf("%s High Activity Alert! %s\n\n%s", icon(variant), variant.Tag(), pool)
}

// Truncate cuts s to max runes, the last one being the ellipsis
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	r := []rune(s)
	return strings.TrimRightFunc(string(r[:max-1]), isSpace) + ellipsis
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t'
}

func icon(variant domain.Variant) string {
	switch variant {
	case domain.VariantConstantProduct:
		return "🔄"
	case domain.VariantConcentratedLiquidity:
		return "⚡"
	default:
		return "📈"
	}
}
