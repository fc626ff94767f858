package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/automation"
	"testnet-automation/pkg/bridge"
	"testnet-automation/pkg/config"
	"testnet-automation/pkg/proxy"
	"testnet-automation/pkg/runner"
	"testnet-automation/pkg/shared"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	optionConfig = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to config file, defaults to config.yaml, config.yml or config.json in the working directory",
		EnvVars: []string{"TESTNET_AUTOMATION_CONFIG"},
	}
	optionKeys = &cli.StringFlag{
		Name:    "keys",
		Usage:   "file with one private key per line",
		Value:   "pk.txt",
		EnvVars: []string{"TESTNET_AUTOMATION_KEYS"},
	}
	optionProxies = &cli.StringFlag{
		Name:    "proxies",
		Usage:   "file with one proxy URI per line, optional",
		Value:   "proxy.txt",
		EnvVars: []string{"TESTNET_AUTOMATION_PROXIES"},
	}
	optionWallet = &cli.IntFlag{
		Name:  "wallet",
		Usage: "1-based index of the key to use, 0 for every key",
	}
)

func main() {
	_ = godotenv.Load()

	flags := []cli.Flag{optionConfig, optionKeys, optionProxies, optionWallet}
	app := &cli.App{
		Name:  "testnet-automation-cli",
		Usage: "One-shot wallet operations on Sepolia and Ithaca",
		Commands: []*cli.Command{
			{
				Name:   "address",
				Usage:  "Print the address of every configured key",
				Flags:  []cli.Flag{optionKeys, optionWallet},
				Action: printAddresses,
			},
			{
				Name:  "transfer",
				Usage: "Send a share of the Ithaca balance back to the same wallet",
				Flags: flags,
				Action: func(c *cli.Context) error {
					return forEachWallet(c, func(ctx context.Context, s *automation.Stack, w runner.Wallet) error {
						return s.Transfer.Run(ctx, w)
					})
				},
			},
			{
				Name:  "bridge-to-ithaca",
				Usage: "Bridge a random amount of ether from Sepolia to Ithaca",
				Flags: flags,
				Action: func(c *cli.Context) error {
					return bridgeOnce(c, bridge.SepoliaToIthaca)
				},
			},
			{
				Name:  "bridge-to-sepolia",
				Usage: "Bridge a random amount of ether from Ithaca to Sepolia",
				Flags: flags,
				Action: func(c *cli.Context) error {
					return bridgeOnce(c, bridge.IthacaToSepolia)
				},
			},
			{
				Name:  "cancel-pending",
				Usage: "Replace stuck transactions on both chains with zero value self transfers",
				Flags: flags,
				Action: func(c *cli.Context) error {
					return forEachWallet(c, func(ctx context.Context, s *automation.Stack, w runner.Wallet) error {
						return s.CancelPending(ctx, w)
					})
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "Exited with error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(logLevel string) {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse log level")
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.DefaultContextLogger = &log.Logger
}

func selectKeys(c *cli.Context) ([]string, []int, error) {
	keys, err := automation.LoadKeys(c.String(optionKeys.Name))
	if err != nil {
		return nil, nil, err
	}
	idx := c.Int(optionWallet.Name)
	if idx < 0 || idx > len(keys) {
		return nil, nil, fmt.Errorf("wallet must be between 1 and %d", len(keys))
	}
	if idx > 0 {
		return keys[idx-1 : idx], []int{idx}, nil
	}
	indexes := make([]int, len(keys))
	for i := range keys {
		indexes[i] = i + 1
	}
	return keys, indexes, nil
}

func printAddresses(c *cli.Context) error {
	setupLogging("info")
	keys, indexes, err := selectKeys(c)
	if err != nil {
		return err
	}
	network := shared.DefaultNetwork(shared.Ithaca)
	for i, key := range keys {
		acc, err := account.FromPrivateKey(key, network)
		if err != nil {
			log.Error().Err(err).Int("wallet", indexes[i]).Msg("invalid private key")
			continue
		}
		fmt.Fprintf(c.App.Writer, "%d\t%s\n", indexes[i], acc.Address().Hex())
	}
	return nil
}

// forEachWallet builds the stack once and runs fn for every selected wallet.
// Failures are logged per wallet and reported together.
func forEachWallet(c *cli.Context, fn func(ctx context.Context, s *automation.Stack, w runner.Wallet) error) error {
	cfg, err := config.Load(c.String(optionConfig.Name), ".")
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	keys, indexes, err := selectKeys(c)
	if err != nil {
		return err
	}
	pool, err := proxy.Load(c.String(optionProxies.Name))
	if err != nil {
		return err
	}
	stack, err := automation.Build(ctx, cfg, pool, nil)
	if err != nil {
		return err
	}
	defer stack.Close()

	var errs []error
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		acc, err := stack.Account(key, shared.Ithaca)
		if err != nil {
			log.Error().Err(err).Int("wallet", indexes[i]).Msg("invalid private key")
			continue
		}
		logger := log.With().Int("wallet", indexes[i]).Str("address", acc.Address().Hex()).Logger()
		if err := fn(logger.WithContext(ctx), stack, runner.Wallet{Index: indexes[i], Account: acc}); err != nil {
			logger.Error().Err(err).Msg("operation failed")
			errs = append(errs, fmt.Errorf("wallet %d: %w", indexes[i], err))
		}
	}
	return errors.Join(errs...)
}

func bridgeOnce(c *cli.Context, d bridge.Direction) error {
	return forEachWallet(c, func(ctx context.Context, s *automation.Stack, w runner.Wallet) error {
		out := s.Bridge.Bridge(ctx, w.Account, d)
		switch {
		case out.Err != nil:
			return out.Err
		case out.Skipped || out.Reason != "":
			fmt.Fprintf(c.App.Writer, "wallet %d: %s skipped: %s\n", w.Index, d, out.Reason)
		default:
			fmt.Fprintf(c.App.Writer, "wallet %d: bridged %s ETH, tx %s\n",
				w.Index, shared.FormatEther(out.Amount), s.Networks[d.Source()].TxURL(out.TxHash))
		}
		return nil
	})
}
