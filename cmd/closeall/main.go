// Command closeall flattens the account: closes every open position with a
// market order and cancels all resting orders. Emergency hatch for when the
// agent must be taken offline with a clean book.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	ctx := context.Background()
	bv, err := venue.NewBinanceVenue(ctx, cfg, cfg.Trading.Assets, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "venue init error: %v\n", err)
		os.Exit(1)
	}

	acct, err := bv.AccountState(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "account state error: %v\n", err)
		os.Exit(1)
	}

	if len(acct.Positions) == 0 {
		fmt.Println("No open positions.")
	} else {
		fmt.Printf("Found %d position(s):\n\n", len(acct.Positions))
		for _, p := range acct.Positions {
			side := "LONG"
			if p.Size < 0 {
				side = "SHORT"
			}
			fmt.Printf("  %s %s: size=%g entry=%.4f uPnL=$%.2f\n",
				p.Asset, side, p.Size, p.EntryPrice, p.UnrealizedPnL)
		}
		fmt.Println()
	}

	if *dryRun {
		fmt.Println("Dry run — no orders placed.")
		return
	}

	var closed, failed int
	for _, p := range acct.Positions {
		size := p.Size
		isLong := size > 0
		if size < 0 {
			size = -size
		}
		if size == 0 {
			continue
		}

		// Close with an opposite-side market order.
		if _, err := bv.PlaceMarketOrder(ctx, p.Asset, !isLong, size); err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: close: %v\n", p.Asset, err)
			failed++
			continue
		}
		fmt.Printf("  [OK]   %s: closed size=%g\n", p.Asset, size)
		closed++
	}

	for _, asset := range cfg.Trading.Assets {
		cancelled, err := bv.CancelAllOrders(ctx, asset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: cancel orders: %v\n", asset, err)
			failed++
			continue
		}
		if cancelled > 0 {
			fmt.Printf("  [OK]   %s: cancelled %d order(s)\n", asset, cancelled)
		}
	}

	fmt.Printf("\nDone: %d closed, %d failed.\n", closed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
