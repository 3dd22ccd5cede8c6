// Command marketsimd is a thin cobra entrypoint over internal/manager: run
// one session against a replay tape file to completion and print its final
// account snapshot as JSON. It is bootstrap only — no HTTP/WebSocket façade
// lives here, matching internal/manager's library-level surface.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rishav/marketsim/internal/config"
	"github.com/rishav/marketsim/internal/datasource"
	"github.com/rishav/marketsim/internal/manager"
	"github.com/rishav/marketsim/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	tapePath       string
	logDir         string
	symbols        []string
	startNs        int64
	endNs          int64
	initialCapital float64
	speedFactor    float64
	seed           int64
	verbose        bool
)

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func requireNoError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marketsimd",
	Short: "marketsimd drives the deterministic market simulator against a replay tape.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one session against a tape file from start to end and print its final account state.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		cfg, err := config.Load(configPath)
		requireNoError(err)

		ds, err := datasource.LoadTapeFile(tapePath)
		requireNoError(err)

		mgr := manager.New(*cfg, ds, logDir, log)

		mgr.AddEventCallback(func(sessionID string, ev model.Event) {
			if ev.Kind == model.EventOrderFill {
				log.Info().Str("session_id", sessionID).Str("symbol", ev.Symbol).Msg("fill")
			}
		})

		s, err := mgr.CreateSession(manager.CreateParams{
			Symbols:        symbols,
			Start:          startNs,
			End:            endNs,
			InitialCapital: decimal.NewFromFloat(initialCapital),
			SpeedFactor:    speedFactor,
			Seed:           seed,
		})
		requireNoError(err)

		id := s.ID()
		requireNoError(mgr.Start(id))

		for {
			wm, err := mgr.Watermark(id)
			requireNoError(err)
			if wm >= endNs-1 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		requireNoError(mgr.Stop(id))

		state, err := mgr.AccountState(id)
		requireNoError(err)
		positions, err := mgr.Positions(id)
		requireNoError(err)

		out, err := json.MarshalIndent(map[string]interface{}{
			"session_id": id,
			"account":    state,
			"positions":  positions,
		}, "", "  ")
		requireNoError(err)
		fmt.Fprintln(os.Stdout, string(out))
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML execution/fees config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&tapePath, "tape", "t", "", "Path to a JSON-lines replay tape")
	runCmd.Flags().StringSliceVarP(&symbols, "symbols", "s", nil, "Symbols to simulate")
	runCmd.Flags().Int64Var(&startNs, "start", 0, "Session start time, nanoseconds since epoch")
	runCmd.Flags().Int64Var(&endNs, "end", 0, "Session end time, nanoseconds since epoch")
	runCmd.Flags().Float64Var(&initialCapital, "capital", 100000, "Initial cash")
	runCmd.Flags().Float64Var(&speedFactor, "speed", 0, "Clock pacing factor; 0 runs unthrottled")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Matching engine stochastic seed")
	runCmd.Flags().StringVarP(&logDir, "log-dir", "l", "", "Directory for checkpoints and WAL; empty disables durability")
	runCmd.MarkFlagRequired("tape")
	runCmd.MarkFlagRequired("symbols")
	runCmd.MarkFlagRequired("end")

	requireNoError(rootCmd.Execute())
}
