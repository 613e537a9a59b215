package domain

// Wire types of the ingestion webhook: {"data": [BlockEventBatch...]}

type WebhookPayload struct {
	Data []BlockEventBatch `json:"data" validate:"dive"`
}

type BlockEventBatch struct {
	Chain     Chain   `json:"chain"`
	Number    uint64  `json:"number"`
	Hash      string  `json:"hash"`
	UniswapV2 V2Batch `json:"uniswapV2"`
	UniswapV3 V3Batch `json:"uniswapV3"`
}

type V2Batch struct {
	PairCreations []PairCreation `json:"pairCreations" validate:"dive"`
	Swaps         []SwapV2       `json:"swaps" validate:"dive"`
}

type V3Batch struct {
	PoolCreations []PoolCreation `json:"poolCreations" validate:"dive"`
	Swaps         []SwapV3       `json:"swaps" validate:"dive"`
}

type PairCreation struct {
	Pair            string `json:"pair" validate:"required,eth_addr"`
	Token0          string `json:"token0" validate:"required,eth_addr"`
	Token1          string `json:"token1" validate:"required,eth_addr"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockTimestamp  int64  `json:"blockTimestamp" validate:"gt=0"`
	TransactionHash string `json:"transactionHash" validate:"required"`
}

type PoolCreation struct {
	Pool            string `json:"pool" validate:"required,eth_addr"`
	Token0          string `json:"token0" validate:"required,eth_addr"`
	Token1          string `json:"token1" validate:"required,eth_addr"`
	Fee             uint32 `json:"fee"`
	TickSpacing     int32  `json:"tickSpacing"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockTimestamp  int64  `json:"blockTimestamp" validate:"gt=0"`
	TransactionHash string `json:"transactionHash" validate:"required"`
}

type SwapV2 struct {
	Pair            string `json:"pair" validate:"required,eth_addr"`
	Sender          string `json:"sender"`
	To              string `json:"to"`
	Amount0In       string `json:"amount0In" validate:"required,number"`
	Amount1In       string `json:"amount1In" validate:"required,number"`
	Amount0Out      string `json:"amount0Out" validate:"required,number"`
	Amount1Out      string `json:"amount1Out" validate:"required,number"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockTimestamp  int64  `json:"blockTimestamp" validate:"gt=0"`
	TransactionHash string `json:"transactionHash" validate:"required"`
	LogIndex        uint32 `json:"logIndex"`
}

type SwapV3 struct {
	Pool            string `json:"pool" validate:"required,eth_addr"`
	Sender          string `json:"sender"`
	Recipient       string `json:"recipient"`
	Amount0         string `json:"amount0" validate:"required,numeric"`
	Amount1         string `json:"amount1" validate:"required,numeric"`
	SqrtPriceX96    string `json:"sqrtPriceX96"`
	Liquidity       string `json:"liquidity"`
	Tick            int32  `json:"tick"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockTimestamp  int64  `json:"blockTimestamp" validate:"gt=0"`
	TransactionHash string `json:"transactionHash" validate:"required"`
	LogIndex        uint32 `json:"logIndex"`
}
