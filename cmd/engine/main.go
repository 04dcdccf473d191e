// Command engine runs the deterministic intraday backtest engine (spec §6)
// against a directory of per-ticker CSV bar files, using the reference
// opening-range-breakout + pullback strategy (C10).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ohlcforge/backtester/internal/config"
	"github.com/ohlcforge/backtester/internal/engine"
	"github.com/ohlcforge/backtester/internal/market"
	"github.com/ohlcforge/backtester/internal/metrics"
	"github.com/ohlcforge/backtester/internal/strategy/orb"
	"github.com/ohlcforge/backtester/pkg/models"
	"github.com/ohlcforge/backtester/pkg/utils"
)

// Exit codes per spec §7: 0 success, 1 engine/data failure, 2
// configuration or contract error.
const (
	exitOK            = 0
	exitEngineFailure = 1
	exitConfigError   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ee, ok := err.(*models.EngineError); ok {
			switch ee.Kind {
			case models.KindConfigurationError, models.KindContractError:
				return exitConfigError
			default:
				return exitEngineFailure
			}
		}
		return exitEngineFailure
	}
	return exitOK
}

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Deterministic intraday backtest engine",
	Long: `engine replays a fixed set of intraday OHLCV bars through a
single reference strategy, bar by bar, with no lookahead and no wall-clock
sampling, producing a reproducible determinism hash alongside the usual
trade log and performance metrics.`,
	RunE: runEngine,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("config", "", "config file path (overrides defaults and flags below where set)")
	flags.StringSlice("tickers", nil, "tickers to backtest (comma-separated)")
	flags.String("start-date", "", "start date, YYYY-MM-DD (inclusive)")
	flags.String("end-date", "", "end date, YYYY-MM-DD (inclusive)")
	flags.String("data-dir", "", "directory of <ticker>.csv bar files")
	flags.Float64("initial-capital", 0, "starting capital")
	flags.Float64("slippage-bps", -1, "slippage in basis points")
	flags.Float64("spread-bps", -1, "spread in basis points")
	flags.Float64("commission", -1, "flat commission per trade")
	flags.String("snapshot-dir", "", "directory to write per-bar JSON snapshots (optional)")
	flags.Int64("seed", -1, "run seed, recorded for provenance only (the engine has no randomness)")
	flags.Bool("json", false, "print the summary as JSON instead of text")
	flags.String("trades-csv", "", "path to write the per-trade CSV (optional)")
	flags.String("daily-nav-csv", "", "path to write the daily NAV CSV (optional)")
	flags.Float64("risk-free-rate", 0.0, "annual risk-free rate used for Sharpe/Sortino")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return &models.EngineError{Kind: models.KindConfigurationError, Message: err.Error(), Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return &models.EngineError{Kind: models.KindConfigurationError, Message: err.Error(), Cause: err}
	}

	session, err := utils.NewSession(cfg.Timezone)
	if err != nil {
		return &models.EngineError{Kind: models.KindConfigurationError, Message: err.Error(), Cause: err}
	}

	source, err := market.NewCSVBarSource(cfg.DataDir, cfg.Tickers, cfg.StartDate, cfg.EndDate, session)
	if err != nil {
		return err
	}

	result, err := runOnce(cfg, session, source)
	if err != nil {
		return err
	}

	if os.Getenv("ENGINE_DETERMINISTIC") == "1" {
		// A fresh Strategy instance per run is required here: orb.Strategy
		// carries cross-session ATR history (orb.go's atrHistory) that
		// accumulates for the life of the instance, so replaying through the
		// same instance would let run 1's history leak into run 2's regime
		// filter and produce a spurious hash mismatch on a valid,
		// deterministic config.
		replay, err := runOnce(cfg, session, source)
		if err != nil {
			return err
		}
		if replay.DeterminismHash != result.DeterminismHash {
			return &models.EngineError{
				Kind:    models.KindDeterminismViolation,
				Message: fmt.Sprintf("replay hash %s != first-run hash %s", replay.DeterminismHash, result.DeterminismHash),
			}
		}
	}

	summary := metrics.Compute(result.Trades, result.DailyNAV, decimal.NewFromFloat(cfg.InitialCapital),
		riskFreeRateFlag(cmd), result.DeterminismHash)

	if err := exportIfRequested(cmd, summary); err != nil {
		return &models.EngineError{Kind: models.KindEngineFailure, Message: err.Error(), Cause: err}
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printSummary(summary)
	return nil
}

// runOnce constructs a fresh orb.Strategy for every call so that a
// determinism replay never shares strategy-instance state (e.g. the
// reference strategy's rolling ATR history) with the run it is checked
// against.
func runOnce(cfg *config.Config, session *utils.Session, source *market.CSVBarSource) (*engine.Result, error) {
	strat := orb.New(session, cfg.TradingWindowStart, cfg.OpeningRangeMinutes)
	eng := engine.NewFromSource(cfg, session, source, strat, os.Stderr)
	return eng.Run()
}

func riskFreeRateFlag(cmd *cobra.Command) float64 {
	v, _ := cmd.Flags().GetFloat64("risk-free-rate")
	return v
}

// loadConfig layers a config file (if given) under flag overrides, the
// same precedence the rest of the corpus's CLIs use: file first, explicit
// flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if tickers, _ := flags.GetStringSlice("tickers"); len(tickers) > 0 {
		cfg.Tickers = tickers
	}
	if v, _ := flags.GetString("start-date"); v != "" {
		cfg.StartDate = v
	}
	if v, _ := flags.GetString("end-date"); v != "" {
		cfg.EndDate = v
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := flags.GetFloat64("initial-capital"); v > 0 {
		cfg.InitialCapital = v
	}
	if v, _ := flags.GetFloat64("slippage-bps"); v >= 0 {
		cfg.SlippageBps = v
	}
	if v, _ := flags.GetFloat64("spread-bps"); v >= 0 {
		cfg.SpreadBps = v
	}
	if v, _ := flags.GetFloat64("commission"); v >= 0 {
		cfg.CommissionPerTrade = v
	}
	if v, _ := flags.GetString("snapshot-dir"); v != "" {
		cfg.SnapshotDir = v
	}
	if v, _ := flags.GetInt64("seed"); v >= 0 {
		cfg.Seed = v
	}
	return cfg, nil
}

func exportIfRequested(cmd *cobra.Command, summary models.Metrics) error {
	if path, _ := cmd.Flags().GetString("trades-csv"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := metrics.WriteTradesCSV(f, summary.Trades); err != nil {
			return err
		}
	}
	if path, _ := cmd.Flags().GetString("daily-nav-csv"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := metrics.WriteDailyNAVCSV(f, summary.DailyNAVSeries); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(m models.Metrics) {
	fmt.Println("=======================================")
	fmt.Println("  Backtest summary")
	fmt.Println("=======================================")
	fmt.Printf("  Total return:       %s\n", m.TotalReturn.StringFixed(2))
	fmt.Printf("  Trades:             %d\n", m.TradeCount)
	fmt.Printf("  Win rate:           %s\n", m.WinRate.Mul(decimal.NewFromInt(100)).StringFixed(2)+"%")
	if m.ProfitFactor != nil {
		fmt.Printf("  Profit factor:      %s\n", m.ProfitFactor.StringFixed(2))
	} else {
		fmt.Println("  Profit factor:      undefined")
	}
	fmt.Printf("  Expectancy:         %s\n", m.Expectancy.StringFixed(2))
	fmt.Printf("  Max drawdown:       %s\n", m.MaxDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(2)+"%")
	if m.TimeToRecoveryBars != nil {
		fmt.Printf("  Time to recovery:   %d days\n", *m.TimeToRecoveryBars)
	} else {
		fmt.Println("  Time to recovery:   undefined (not yet recovered)")
	}
	fmt.Printf("  Longest loss streak: %d\n", m.LongestLosingStreak)
	if m.Sharpe != nil {
		fmt.Printf("  Sharpe:             %s\n", m.Sharpe.StringFixed(2))
	} else {
		fmt.Println("  Sharpe:             undefined")
	}
	if m.Sortino != nil {
		fmt.Printf("  Sortino:            %s\n", m.Sortino.StringFixed(2))
	} else {
		fmt.Println("  Sortino:            undefined")
	}
	fmt.Printf("  Determinism hash:   %s\n", m.DeterminismHash)
	fmt.Println("=======================================")
}
