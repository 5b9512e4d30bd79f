package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SepehrImanian/ndsol/internal/adapters/httpapi"
	"github.com/SepehrImanian/ndsol/internal/adapters/netio"
	"github.com/SepehrImanian/ndsol/internal/adapters/repo"
	"github.com/SepehrImanian/ndsol/internal/app"
	"github.com/SepehrImanian/ndsol/internal/config"
	"github.com/SepehrImanian/ndsol/internal/core"
	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/logging"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "ndsold",
	Short: "IPv6 neighbour discovery resolver",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			if errors.As(err, &Interrupted{}) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "ndsol.yaml", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := config.Load(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	info, err := netio.NewLocalInfo(cfg)
	if err != nil {
		return err
	}
	addr, err := info.LocalAddr()
	if err != nil {
		return fmt.Errorf("failed to determine local address: %w", err)
	}
	linkAddr, err := info.LocalLinkAddr()
	if err != nil {
		return fmt.Errorf("failed to determine local link address: %w", err)
	}

	snaplen := int(cfg.Snaplen.Bytes())

	link, err := netio.OpenLink(cfg.Interface, snaplen, log)
	if err != nil {
		return err
	}
	defer link.Close()

	var nextHop netip.Addr
	if cfg.NextHop != "" {
		if nextHop, err = config.ParseAddress(cfg.NextHop); err != nil {
			return err
		}
	}
	ingress, err := netio.OpenIngress(cfg.IngressInterface, snaplen, nextHop, log)
	if err != nil {
		return err
	}
	defer ingress.Close()

	clk := clock.New()
	options := []core.Option{
		core.WithExpireTimeout(cfg.ExpireTimeout),
		core.WithSolicitPolicy(domain.NewSolicitPolicy(cfg.RetransmitInterval)),
		core.WithQueryRate(rate.Limit(cfg.QueryRate), cfg.QueryBurst),
		core.WithClock(clk),
		core.WithLog(log),
	}
	if cfg.QueryInterface != "" && cfg.QueryInterface != cfg.Interface {
		queryOut, err := netio.OpenOutput(cfg.QueryInterface, snaplen, log)
		if err != nil {
			return err
		}
		defer queryOut.Close()
		options = append(options, core.WithQueryOutput(queryOut))
	}

	resolver, err := core.NewResolver(
		core.Identity{Addr: addr, LinkAddr: linkAddr},
		repo.NewAddressCache(),
		link,
		options...,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	d := &app.Daemon{
		Resolver: resolver,
		Link:     link,
		Ingress:  ingress,
		Clock:    clk,
		Logger:   log,
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return d.Run(ctx)
	})
	if cfg.HTTP.Listen != "" {
		srv := httpapi.NewServer(cfg.HTTP.Listen, resolver, log)
		wg.Go(func() error {
			return srv.Run(ctx)
		})
	}
	wg.Go(func() error {
		err := WaitInterrupted(ctx)
		log.Infow("caught signal", zap.Error(err))
		return err
	})

	return wg.Wait()
}

type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
