package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethp2p/sparse-blobpool/cmd/flags"
	"github.com/ethp2p/sparse-blobpool/config"
	intmetrics "github.com/ethp2p/sparse-blobpool/internal/metrics"
	"github.com/ethp2p/sparse-blobpool/runlog"
	"github.com/ethp2p/sparse-blobpool/sim"
)

func main() {
	app := cli.NewApp()

	app.Name = "Sparse Blobpool Simulator"
	app.Usage = "Deterministic discrete-event simulator for sparse blob propagation"
	app.EnableBashCompletion = true

	app.Commands = []*cli.Command{
		{
			Name:        "run",
			Flags:       flags.SimulationFlags,
			Usage:       "Runs one simulation and prints the results record",
			Description: "Builds the configured network, broadcasts transactions and reports aggregate metrics as JSON",
			Action:      runSimulation,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSimulation(c *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(c.Int(flags.Verbosity.Name)), true)
	log.SetDefault(log.NewLogger(handler))

	cfg, err := config.NewConfigFromCliContext(c)
	if err != nil {
		return err
	}

	if addr := c.String(flags.MetricsAddr.Name); addr != "" {
		srv := intmetrics.NewServer()
		go func() {
			if err := srv.Start(addr); err != nil {
				log.Warn("Metrics server stopped", "err", err)
			}
		}()
	}

	wallStart := time.Now()
	intmetrics.RunsExecuted.Inc()

	simulator, err := sim.New(cfg)
	if err != nil {
		return err
	}

	for i := 0; i < c.Int(flags.TxCount.Name); i++ {
		simulator.BroadcastTransaction("", common.Hash{})
	}

	simulator.Run(cfg.Duration)
	results := simulator.FinalizeMetrics()

	if path := c.String(flags.RunLogFile.Name); path != "" {
		writer, err := runlog.Open(path)
		if err != nil {
			return err
		}
		defer writer.Close()

		summary := &runlog.RunSummary{
			RunID:            runlog.NewRunID(),
			Seed:             cfg.Seed,
			Status:           runlog.DetermineStatus(nil, nil),
			Metrics:          results,
			Config:           cfg,
			WallClockSeconds: time.Since(wallStart).Seconds(),
			SimulatedSeconds: simulator.Kernel().Now(),
			TimestampStart:   wallStart.UTC().Format(time.RFC3339),
			TimestampEnd:     time.Now().UTC().Format(time.RFC3339),
		}
		if err := writer.Append(summary); err != nil {
			return err
		}
	}

	return printResults(results)
}

func printResults(results any) error {
	blob, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(blob))
	return nil
}
