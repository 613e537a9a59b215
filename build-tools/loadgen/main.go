// Run: go run ./build-tools/loadgen -url http://localhost:3030/webhook -chain ethereum -pools 20 -rps 200 -duration 60s
//
// Posts synthetic block batches to the ingestion webhook. The first batch creates the pools,
// the rest are swaps skewed toward a few hot pools so the scheduler has something to alert on.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	mrand "math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"poolwatch/internal/domain"
	"poolwatch/internal/security"
)

type pool struct {
	address string
	variant domain.Variant
}

func main() {
	var (
		url      = flag.String("url", "http://localhost:3030/webhook", "webhook url")
		chain    = flag.String("chain", "ethereum", "chain name")
		nPools   = flag.Int("pools", 20, "number of synthetic pools, half v2 half v3")
		rps      = flag.Int("rps", 200, "swaps per second target")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		keyPath  = flag.String("jwt-key", "", "RSA private key PEM; empty sends no Authorization header")
		issuer   = flag.String("jwt-iss", "indexer", "token issuer")
		audience = flag.String("jwt-aud", "poolwatch", "token audience")
		subject  = flag.String("jwt-sub", "loadgen", "token subject (producer)")
	)
	flag.Parse()

	var token string
	if *keyPath != "" {
		signer, err := security.NewRS256Signer(*keyPath, *issuer, *audience)
		if err != nil {
			fmt.Printf("signer init error: %v\n", err)
			os.Exit(1)
		}
		if token, err = signer.Mint(*subject, *duration+time.Hour); err != nil {
			fmt.Printf("mint token error: %v\n", err)
			os.Exit(1)
		}
	}

	client := &http.Client{Timeout: 10 * time.Second}
	post := func(ctx context.Context, payload *domain.WebhookPayload) error {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, *url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools := make([]pool, *nPools)
	creation := domain.BlockEventBatch{Chain: domain.Chain(*chain), Number: 20_000_000, Hash: "0x" + randHex(64)}
	now := time.Now().Unix()
	for i := range pools {
		pools[i].address = "0x" + randHex(40)
		if i%2 == 0 {
			pools[i].variant = domain.VariantConstantProduct
			creation.UniswapV2.PairCreations = append(creation.UniswapV2.PairCreations, domain.PairCreation{
				Pair: pools[i].address, Token0: "0x" + randHex(40), Token1: "0x" + randHex(40),
				BlockNumber: creation.Number, BlockTimestamp: now, TransactionHash: "0x" + randHex(64),
			})
			continue
		}
		pools[i].variant = domain.VariantConcentratedLiquidity
		creation.UniswapV3.PoolCreations = append(creation.UniswapV3.PoolCreations, domain.PoolCreation{
			Pool: pools[i].address, Token0: "0x" + randHex(40), Token1: "0x" + randHex(40), Fee: 3000, TickSpacing: 60,
			BlockNumber: creation.Number, BlockTimestamp: now, TransactionHash: "0x" + randHex(64),
		})
	}
	if err := post(ctx, &domain.WebhookPayload{Data: []domain.BlockEventBatch{creation}}); err != nil {
		fmt.Printf("create pools error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("loadgen → url=%s chain=%s pools=%d rps=%d duration=%s\n", *url, *chain, *nPools, *rps, duration.String())

	end := time.Now().Add(*duration)

	// one block per tick, 10 ticks a second
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	perTick := float64(*rps) / 10.0
	accum := 0.0
	block := creation.Number
	sent, failed := 0, 0

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("signal received, stopping…")
			break loop
		case t := <-tick.C:
			if t.After(end) {
				break loop
			}

			accum += perTick
			n := int(math.Floor(accum))
			if n <= 0 {
				continue
			}
			accum -= float64(n)

			block++
			batch := domain.BlockEventBatch{Chain: domain.Chain(*chain), Number: block, Hash: "0x" + randHex(64)}
			for i := 0; i < n; i++ {
				addSwap(&batch, pickPool(pools), uint32(i), t.Unix())
			}

			if err := post(ctx, &domain.WebhookPayload{Data: []domain.BlockEventBatch{batch}}); err != nil {
				failed++
				fmt.Printf("post error: %v\n", err)
				continue
			}
			sent += n
		}
	}

	fmt.Printf("done: swaps sent=%d, failed batches=%d\n", sent, failed)
}

// pickPool skews toward the first pools (roughly Zipf)
func pickPool(pools []pool) pool {
	i := int(math.Floor(math.Pow(mrand.Float64(), 3) * float64(len(pools))))
	return pools[i]
}

func addSwap(b *domain.BlockEventBatch, p pool, logIndex uint32, ts int64) {
	amount := fmt.Sprintf("%d", 1_000_000+mrand.IntN(1_000_000_000))
	buy := mrand.IntN(2) == 0
	tx := "0x" + randHex(64)

	if p.variant == domain.VariantConstantProduct {
		sw := domain.SwapV2{
			Pair: p.address, Sender: "0x" + randHex(40), To: "0x" + randHex(40),
			Amount0In: "0", Amount1In: "0", Amount0Out: "0", Amount1Out: "0",
			BlockNumber: b.Number, BlockTimestamp: ts, TransactionHash: tx, LogIndex: logIndex,
		}
		if buy {
			sw.Amount1In, sw.Amount0Out = amount, amount
		} else {
			sw.Amount0In, sw.Amount1Out = amount, amount
		}
		b.UniswapV2.Swaps = append(b.UniswapV2.Swaps, sw)
		return
	}

	sw := domain.SwapV3{
		Pool: p.address, Sender: "0x" + randHex(40), Recipient: "0x" + randHex(40),
		Amount0: "-" + amount, Amount1: amount, SqrtPriceX96: "79228162514264337593543950336", Liquidity: "1000000",
		BlockNumber: b.Number, BlockTimestamp: ts, TransactionHash: tx, LogIndex: logIndex,
	}
	if buy {
		sw.Amount0, sw.Amount1 = amount, "-"+amount
	}
	b.UniswapV3.Swaps = append(b.UniswapV3.Swaps, sw)
}

func randHex(n int) string {
	b := make([]byte, n/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
