package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"papertrade/pkg/papertrade"
)

const version = "0.1.0"

// rootConfig holds the persistent flags shared by every command.
type rootConfig struct {
	server     string
	configPath string
}

func (rc *rootConfig) client() *papertrade.Client {
	return papertrade.NewClient(rc.server)
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}

	server := os.Getenv("PAPERTRADE_URL")
	if server == "" {
		server = "http://127.0.0.1:8080"
	}
	cfgPath := os.Getenv("PAPERTRADE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/papertrade.yaml"
	}

	cmd := &cobra.Command{
		Use:          "paper-cli",
		Short:        "Command-line client for the paper-trading server",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&rc.server, "server", server, "paper-server base URL")
	cmd.PersistentFlags().StringVar(&rc.configPath, "config", cfgPath, "config file (export only)")

	cmd.AddCommand(
		newVersionCmd(),
		newAccountCmd(rc),
		newPositionsCmd(rc),
		newPDTCmd(rc),
		newOrderCmd(rc),
		newEstimateCmd(rc),
		newExportCmd(rc),
	)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "paper-cli %s\n", version)
		},
	}
}

func newAccountCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create or inspect paper accounts",
	}

	var user, instance string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the account for a user/instance (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, err := rc.client().CreateAccount(cmd.Context(), user, instance)
			if err != nil {
				return err
			}
			return printJSON(cmd, acct)
		},
	}
	create.Flags().StringVar(&user, "user", "", "user id")
	create.Flags().StringVar(&instance, "instance", "default", "strategy instance")
	_ = create.MarkFlagRequired("user")

	show := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show equity, P&L and positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := rc.client().GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}

func newPositionsCmd(rc *rootConfig) *cobra.Command {
	var mark bool
	cmd := &cobra.Command{
		Use:   "positions <account-id>",
		Short: "List open positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rc.client()
			var (
				positions []papertrade.Position
				err       error
			)
			if mark {
				positions, err = c.MarkToMarket(cmd.Context(), args[0], nil)
			} else {
				positions, err = c.GetPositions(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, positions)
		},
	}
	cmd.Flags().BoolVar(&mark, "mark", false, "mark positions to market from the server's quote source first")
	return cmd
}

func newPDTCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "pdt <account-id>",
		Short: "Show the pattern-day-trader window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rc.client().GetPDTStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newOrderCmd(rc *rootConfig) *cobra.Command {
	var (
		req             papertrade.OrderRequest
		side            string
		limit           float64
		price, bid, ask float64
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Submit a market or limit order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Side = papertrade.Buy
			if side == "sell" {
				req.Side = papertrade.Sell
			} else if side != "buy" {
				return fmt.Errorf("--side must be buy or sell, got %q", side)
			}
			if cmd.Flags().Changed("limit") {
				req.LimitPrice = &limit
			}
			var quote *papertrade.Quote
			if price > 0 || bid > 0 || ask > 0 {
				quote = &papertrade.Quote{Symbol: req.Symbol, Price: price, Bid: bid, Ask: ask}
			}

			res, err := rc.client().SubmitOrder(cmd.Context(), req, quote)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Filled() {
				return fmt.Errorf("order rejected: %s", res.Reason)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.AccountID, "account", "", "account id")
	f.StringVar(&req.Symbol, "symbol", "", "symbol (equity or OCC option)")
	f.StringVar(&side, "side", "buy", "buy or sell")
	f.Int64Var(&req.Qty, "qty", 1, "quantity")
	f.Float64Var(&limit, "limit", 0, "limit price")
	f.BoolVar(&req.IsDayTrade, "day-trade", false, "flag the order as part of a same-day round trip")
	f.Float64Var(&price, "price", 0, "quote: last price (omit all quote flags to use the server's quote source)")
	f.Float64Var(&bid, "bid", 0, "quote: bid")
	f.Float64Var(&ask, "ask", 0, "quote: ask")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

func newEstimateCmd(rc *rootConfig) *cobra.Command {
	var (
		symbol string
		qty    int64
		adv    float64
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate size-adjusted slippage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			est, err := rc.client().EstimateSlippage(cmd.Context(), symbol, qty, adv)
			if err != nil {
				return err
			}
			return printJSON(cmd, est)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol used to look up average daily volume")
	cmd.Flags().Int64Var(&qty, "qty", 1, "order quantity")
	cmd.Flags().Float64Var(&adv, "adv", 0, "average daily volume (overrides lookup)")
	return cmd
}
