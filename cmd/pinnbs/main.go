// pinnbs prices European options in closed form and trains a physics
// informed network to reproduce the Black-Scholes price.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwaldner/pinnbs/internal/audit"
	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/compare"
	"github.com/jwaldner/pinnbs/internal/config"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/models"
	"github.com/jwaldner/pinnbs/internal/pinn"
	"github.com/jwaldner/pinnbs/internal/server"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pinnbs",
	Short: "Black-Scholes pricing with a physics-informed neural network",
	Long: `pinnbs prices European options with the Black-Scholes closed form and
trains a neural network whose loss is the Black-Scholes PDE residual, so the
two can be compared.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			var err error
			if cfg, err = config.LoadFromFile(configFile); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		} else {
			cfg = config.Load()
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.LogLevel = level
		}
		logger.InitWithWriter(cfg.Logging.LogLevel, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error, verbose)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(serveCmd)
}

func contractFlags(cmd *cobra.Command, withSpot bool) {
	if withSpot {
		cmd.Flags().Float64("spot", 100, "spot price S")
	}
	cmd.Flags().Float64("strike", 100, "strike K")
	cmd.Flags().Float64("expiry", 1, "time to expiry T in years")
	cmd.Flags().Float64("rate", 0.05, "risk-free rate r")
	cmd.Flags().Float64("vol", 0.2, "volatility σ")
	cmd.Flags().String("type", "call", "option type (call or put)")
}

func contractFromFlags(cmd *cobra.Command) (blackscholes.Contract, error) {
	typ, err := blackscholes.ParseOptionType(mustString(cmd, "type"))
	if err != nil {
		return blackscholes.Contract{}, err
	}
	c := blackscholes.Contract{
		Strike:     mustFloat(cmd, "strike"),
		Expiry:     mustFloat(cmd, "expiry"),
		Rate:       mustFloat(cmd, "rate"),
		Volatility: mustFloat(cmd, "vol"),
		Type:       typ,
	}
	if cmd.Flags().Lookup("spot") != nil {
		c.Spot = mustFloat(cmd, "spot")
	}
	return c, nil
}

func mustFloat(cmd *cobra.Command, name string) float64 {
	v, _ := cmd.Flags().GetFloat64(name)
	return v
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pinnbs %s (commit %s)\n", version, commit)
	},
}

// --- Price Command ---

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Price an option in closed form",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := contractFromFlags(cmd)
		if err != nil {
			return err
		}
		q, err := blackscholes.Evaluate(c)
		if err != nil {
			return err
		}
		summary, err := blackscholes.Summarize(c)
		if err != nil {
			return err
		}

		f := models.FormatQuote(q, summary.ParityError)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, key := range []string{"type", "price", "delta", "gamma", "vega", "theta", "rho", "parity_error"} {
			fmt.Fprintf(w, "%s\t%s\n", key, f[key].Display)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if ok, _ := cmd.Flags().GetBool("profile"); ok {
			fmt.Fprintln(cmd.OutOrStdout())
			return printProfile(cmd, c)
		}
		return nil
	},
}

func init() {
	contractFlags(priceCmd, true)
	priceCmd.Flags().Bool("profile", false, "also print price and Greeks across the configured spot range")
}

// printProfile prints the t=0 price and display-scaled Greeks for each spot
// of the comparison range.
func printProfile(cmd *cobra.Command, c blackscholes.Contract) error {
	spots, _ := cfg.Compare.Grid(c)
	prices, err := blackscholes.Surface(c, spots, []float64{0})
	if err != nil {
		return err
	}
	profile, err := blackscholes.Profile(c, spots)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "spot\tprice\tdelta\tgamma\tvega\ttheta\trho\t")
	for j, s := range spots {
		g := profile[j].Display()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			models.FormatNumber(s, 2).Display,
			models.FormatCurrency(prices[0][j]).Display,
			models.FormatNumber(g.Delta, 4).Display,
			models.FormatNumber(g.Gamma, 4).Display,
			models.FormatNumber(g.Vega, 4).Display,
			models.FormatNumber(g.Theta, 4).Display,
			models.FormatNumber(g.Rho, 4).Display)
	}
	return w.Flush()
}

// --- Train Command ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the PINN and optionally compare it with the closed form",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := contractFromFlags(cmd)
		if err != nil {
			return err
		}
		tc := cfg.Training.TrainConfig(c)
		if v, _ := cmd.Flags().GetInt("epochs"); v > 0 {
			tc.Epochs = v
		}
		if v, _ := cmd.Flags().GetFloat64("lr"); v > 0 {
			tc.LearningRate = v
		}
		if v, _ := cmd.Flags().GetIntSlice("hidden"); len(v) > 0 {
			tc.Hidden = v
		}
		if cmd.Flags().Changed("threshold") {
			tc.Threshold, _ = cmd.Flags().GetFloat64("threshold")
		}
		if cmd.Flags().Changed("seed") {
			tc.Seed, _ = cmd.Flags().GetInt64("seed")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session := pinn.NewSession(pinn.SessionOptions{})
		if journal, _ := cmd.Flags().GetBool("journal"); journal && cfg.Journal.Enabled {
			j, err := audit.NewJournal(cfg.Journal, tc.EmitEvery*10)
			if err != nil {
				return err
			}
			defer j.Close()
			session.Observe(j)
		}

		events, cancel := session.Subscribe(64)
		defer cancel()
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			printProgress(cmd, events)
		}()

		if err := session.Start(ctx, tc); err != nil {
			cancel()
			return err
		}
		// ctx only stops the run; the wait outlives it so the final state is reported
		res, err := session.Wait(context.Background())
		cancel()
		<-printed
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s after %d iterations in %v: loss %s\n",
			res.State, res.Iterations, res.Elapsed.Round(time.Millisecond), models.FormatLoss(res.Losses.Total).Display)

		if ok, _ := cmd.Flags().GetBool("compare"); ok {
			return printComparison(cmd.Context(), cmd, session, c)
		}
		return nil
	},
}

func init() {
	contractFlags(trainCmd, false)
	trainCmd.Flags().Int("epochs", 0, "training iterations (default from config)")
	trainCmd.Flags().Float64("lr", 0, "Adam learning rate (default from config)")
	trainCmd.Flags().IntSlice("hidden", nil, "hidden layer widths, e.g. 64,64,64")
	trainCmd.Flags().Float64("threshold", 0, "stop once the total loss falls below this")
	trainCmd.Flags().Int64("seed", 0, "initialization and sampling seed")
	trainCmd.Flags().Bool("compare", false, "compare with the closed form after training")
	trainCmd.Flags().Bool("journal", false, "write the run to the journal directory")
}

// printProgress prints one line per progress event until the final one.
func printProgress(cmd *cobra.Command, events <-chan pinn.Event) {
	out := cmd.OutOrStdout()
	for e := range events {
		if e.Final {
			return
		}
		fmt.Fprintf(out, "%6d/%d  loss %s  (pde %s, terminal %s, boundary %s)\n",
			e.Iteration, e.Epochs,
			models.FormatLoss(e.Losses.Total).Display,
			models.FormatLoss(e.Losses.PDE).Display,
			models.FormatLoss(e.Losses.Terminal).Display,
			models.FormatLoss(e.Losses.Boundary).Display)
	}
}

func printComparison(ctx context.Context, cmd *cobra.Command, session *pinn.Session, c blackscholes.Contract) error {
	spots, times := cfg.Compare.Grid(c)
	grid, err := compare.CompareGrid(ctx, session, c, spots, times)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "spot\tanalytic\tpinn\terror\t")
	for i, s := range grid.Spots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
			models.FormatNumber(s, 2).Display,
			models.FormatCurrency(grid.Analytic[i][0]).Display,
			models.FormatCurrency(grid.PINN[i][0]).Display,
			models.FormatNumber(grid.Error[i][0], 4).Display)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "grid %dx%d at t=0..T: max error %s, mean error %s\n",
		len(grid.Spots), len(grid.Times),
		models.FormatNumber(grid.MaxError, 4).Display,
		models.FormatNumber(grid.MeanError, 4).Display)
	return nil
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (default from config)")
}
