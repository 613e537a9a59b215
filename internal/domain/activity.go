package domain

// Swap count of one pool inside a window, as returned by the event store
type PoolSwapCount struct {
	Pool       string
	TotalSwaps uint64
}
