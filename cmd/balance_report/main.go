package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"ledger-sync-go/ledger"
	"ledger-sync-go/symbols"
)

func main() {
	dbPath := flag.String("db", "data/ledger.db", "账本数据库路径")
	broker := flag.String("broker", "", "仅输出指定券商 (默认全部)")
	greeks := flag.Bool("greeks", false, "附带输出期权持仓的 delta/theta")
	flag.Parse()

	store, err := ledger.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开账本失败: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	brokers, err := listBrokers(ctx, store, *broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取券商列表失败: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BROKER\tSTRATEGY\tCASH\tPOSITIONS\tTOTAL\tAS OF")
	for _, name := range brokers {
		snaps, err := store.CurrentBalances(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取 %s 余额失败: %v\n", name, err)
			os.Exit(1)
		}
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].Strategy < snaps[j].Strategy })
		var sum float64
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%s\n",
				s.Broker, s.Strategy, s.Cash, s.Positions, s.Total,
				s.AsOf.Format(time.RFC3339))
			sum += s.Total
		}
		value, ok, err := store.AccountValue(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取 %s 账户总值失败: %v\n", name, err)
			os.Exit(1)
		}
		if ok {
			fmt.Fprintf(w, "%s\t(account)\t\t\t%.2f\t\n", name, value)
			if diff := value - sum; diff > 0.01 || diff < -0.01 {
				fmt.Fprintf(w, "%s\t(drift)\t\t\t%.2f\t\n", name, diff)
			}
		}
	}
	w.Flush()

	if *greeks {
		for _, name := range brokers {
			if err := printGreeks(ctx, store, name); err != nil {
				fmt.Fprintf(os.Stderr, "读取 %s 期权持仓失败: %v\n", name, err)
				os.Exit(1)
			}
		}
	}
}

// printGreeks lists the broker's option positions with Black-Scholes
// delta/theta computed from the stored underlying price and volatility.
func printGreeks(ctx context.Context, store *ledger.Store, broker string) error {
	positions, err := store.PositionsByBroker(ctx, broker)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nBROKER\tSYMBOL\tSTRATEGY\tQTY\tDELTA\tTHETA")
	now := time.Now()
	for _, pos := range positions {
		if !symbols.IsOption(pos.Symbol) {
			continue
		}
		delta, theta := symbols.Greeks(pos.Symbol, pos.UnderlyingLatestPrice, pos.UnderlyingVolatility, now)
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.4f\t%.4f\n",
			pos.Broker, pos.Symbol, pos.Strategy, pos.Quantity, delta, theta)
	}
	return w.Flush()
}

// listBrokers enumerates brokers present in the balance history, or returns
// the single requested one.
func listBrokers(ctx context.Context, store *ledger.Store, only string) ([]string, error) {
	if only != "" {
		return []string{only}, nil
	}
	return store.Brokers(ctx)
}
