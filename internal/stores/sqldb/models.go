package sqldb

import "time"

// One table per variant; chain is part of every key so chains never share rows

type v2PairRow struct {
	Chain       string `gorm:"primaryKey;type:varchar(32)"`
	Address     string `gorm:"primaryKey;type:varchar(42)"`
	Token0      string `gorm:"type:varchar(42);not null"`
	Token1      string `gorm:"type:varchar(42);not null"`
	BlockNumber uint64 `gorm:"not null"`
	BlockTime   int64  `gorm:"not null;index:idx_v2_pairs_chain_time,priority:2"`
	TxHash      string `gorm:"type:varchar(66);not null"`
	CreatedAt   time.Time
}

func (v2PairRow) TableName() string { return "uniswap_v2_pairs" }

type v3PoolRow struct {
	Chain       string `gorm:"primaryKey;type:varchar(32)"`
	Address     string `gorm:"primaryKey;type:varchar(42)"`
	Token0      string `gorm:"type:varchar(42);not null"`
	Token1      string `gorm:"type:varchar(42);not null"`
	Fee         uint32 `gorm:"not null"`
	TickSpacing int32  `gorm:"not null"`
	BlockNumber uint64 `gorm:"not null"`
	BlockTime   int64  `gorm:"not null;index:idx_v3_pools_chain_time,priority:2"`
	TxHash      string `gorm:"type:varchar(66);not null"`
	CreatedAt   time.Time
}

func (v3PoolRow) TableName() string { return "uniswap_v3_pools" }

// amounts are uint256/int256 decimal strings, arithmetic happens in shopspring/decimal
type v2SwapRow struct {
	Chain       string `gorm:"primaryKey;type:varchar(32);index:idx_v2_swaps_pair_time,priority:1"`
	TxHash      string `gorm:"primaryKey;type:varchar(66)"`
	LogIndex    uint32 `gorm:"primaryKey;autoIncrement:false"`
	Pair        string `gorm:"type:varchar(42);not null;index:idx_v2_swaps_pair_time,priority:2"`
	Sender      string `gorm:"type:varchar(42)"`
	To          string `gorm:"column:to_address;type:varchar(42)"`
	Amount0In   string `gorm:"type:text;not null"`
	Amount1In   string `gorm:"type:text;not null"`
	Amount0Out  string `gorm:"type:text;not null"`
	Amount1Out  string `gorm:"type:text;not null"`
	BlockNumber uint64 `gorm:"not null"`
	BlockTime   int64  `gorm:"not null;index:idx_v2_swaps_pair_time,priority:3"`
	CreatedAt   time.Time
}

func (v2SwapRow) TableName() string { return "uniswap_v2_swaps" }

type v3SwapRow struct {
	Chain        string `gorm:"primaryKey;type:varchar(32);index:idx_v3_swaps_pool_time,priority:1"`
	TxHash       string `gorm:"primaryKey;type:varchar(66)"`
	LogIndex     uint32 `gorm:"primaryKey;autoIncrement:false"`
	Pool         string `gorm:"type:varchar(42);not null;index:idx_v3_swaps_pool_time,priority:2"`
	Sender       string `gorm:"type:varchar(42)"`
	Recipient    string `gorm:"type:varchar(42)"`
	Amount0      string `gorm:"type:text;not null"`
	Amount1      string `gorm:"type:text;not null"`
	SqrtPriceX96 string `gorm:"type:text"`
	Liquidity    string `gorm:"type:text"`
	Tick         int32
	BlockNumber  uint64 `gorm:"not null"`
	BlockTime    int64  `gorm:"not null;index:idx_v3_swaps_pool_time,priority:3"`
	CreatedAt    time.Time
}

func (v3SwapRow) TableName() string { return "uniswap_v3_swaps" }

type postedActivityRow struct {
	ID            uint      `gorm:"primaryKey"`
	Chain         string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_posted_chain_address,priority:1"`
	Address       string    `gorm:"type:varchar(42);not null;uniqueIndex:ux_posted_chain_address,priority:2"`
	Protocol      string    `gorm:"type:varchar(8);not null"`
	Token0        string    `gorm:"type:varchar(42);not null"`
	Token1        string    `gorm:"type:varchar(42);not null"`
	TradeCount    uint64    `gorm:"not null"`
	Fee           *uint32   `gorm:"default:null"` // null for v2
	FirstPostedAt time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

func (postedActivityRow) TableName() string { return "posted_activity" }
