package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-yield-bridge/internal/config"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Print custody, treasury and payout wallet balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close()
		return printBalances(ctx, os.Stdout, a.balances, cfg)
	},
}

type walletRow struct {
	name    string
	account ledger.AccountID
	asset   ledger.Asset
}

func walletRows(cfg *config.Config) []walletRow {
	stable, yield := cfg.Assets.Stable.Asset(), cfg.Assets.Yield.Asset()
	return []walletRow{
		{"custody", cfg.Wallets.Custody, stable},
		{"treasury", cfg.Wallets.Treasury, yield},
		{"instant payout", cfg.Wallets.InstantPayout, stable},
		{"standard payout", cfg.Wallets.StandardPayout, stable},
	}
}

func printBalances(ctx context.Context, out io.Writer, reader ledger.BalanceReader, cfg *config.Config) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WALLET\tACCOUNT\tBALANCE")
	var firstErr error
	for _, row := range walletRows(cfg) {
		units, err := reader.QueryBalance(ctx, row.account, row.asset.Token)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\terror: %v\n", row.name, row.account, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\n", row.name, row.account, row.asset.Amount(units).String(), row.asset.Symbol)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return firstErr
}
