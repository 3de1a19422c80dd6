package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"utrader/cmd/scan"
	"utrader/src/app"
)

var Version string

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "utrader CMD"
	cliApp.Usage = "The utrader command line interface"

	cliApp.Commands = []cli.Command{
		serveCMD,
		scanCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the trading service",
		Action:      serveAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the full service: scanners, executor, fan-out, health monitor and HTTP surface`,
	}
	scanCMD = cli.Command{
		Name:        "scan",
		Usage:       "run a detector dry run",
		Action:      scanAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Fetch historical candles and replay the U-pattern detector over them`,
	}
)

func serveAction(_ *cli.Context) error {
	logrus.Info("Starting serve CMD")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}

// scanAction replays the detector over historical candles without touching
// the database or placing orders.
func scanAction(_ *cli.Context) error {
	logrus.Info("Starting scan CMD")

	dryRun := &scan.Scan{
		Log: logrus.WithField("cmd", "scan"),
	}
	if err := dryRun.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}
