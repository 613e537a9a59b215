package domain

import (
	"fmt"
	"strconv"
	"strings"
)

func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// EventID = "<chain>:<variant>:<tx_hash>:<log_index>"
func MakeEventID(chain Chain, variant Variant, txHash string, logIndex uint32) string {
	return fmt.Sprintf("%s:%s:%s:%d", chain, variant, strings.ToLower(txHash), logIndex)
}

type ParsedEventID struct {
	Chain    Chain
	Variant  Variant
	TxHash   string
	LogIndex uint32
}

func ParseEventID(id string) (ParsedEventID, error) {
	var out ParsedEventID
	parts := strings.Split(id, ":")
	if len(parts) != 4 {
		return out, fmt.Errorf("invalid event_id format: %s", id)
	}

	variant, err := ParseVariant(parts[1])
	if err != nil {
		return out, err
	}

	logIdx, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return out, fmt.Errorf("invalid log_index, err=%v", err)
	}

	out.Chain = Chain(parts[0])
	out.Variant = variant
	out.TxHash = strings.ToLower(parts[2])
	out.LogIndex = uint32(logIdx)

	return out, nil
}

// Dedup key for alerts, one per (chain, address)
func AlertKey(chain Chain, address string) string {
	return string(chain) + ":" + NormalizeAddress(address)
}

func NormalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
