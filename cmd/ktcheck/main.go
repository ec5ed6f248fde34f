// Command ktcheck is a standalone operator tool for the transparencyd check
// state. It inspects the persisted verification state without a running
// daemon, and can force a self-check or flip the opt-in flag.
//
// Usage:
//
//	ktcheck [flags] <command>
//
// Commands:
//
//	status     Show opt-in flag, self-check state and enrollment
//	check      Run one self-check now (requires service config)
//	enable     Turn checks on
//	disable    Turn checks off and reset all check state
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"transparencyd/internal/account"
	"transparencyd/internal/bridge"
	"transparencyd/internal/config"
	"transparencyd/internal/logging"
	"transparencyd/internal/manager"
	"transparencyd/internal/store"
	"transparencyd/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to config file (toml or yaml)")
	timeout := flag.Duration("timeout", 5*time.Minute, "command timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	if err := runCommand(flag.Arg(0), *configPath, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "ktcheck: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `ktcheck - inspect and drive transparencyd check state

Usage: %s [flags] <command>

Commands:
  status     Show opt-in flag, self-check state and enrollment
  check      Run one self-check now
  enable     Turn checks on
  disable    Turn checks off and reset all check state

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func runCommand(cmd, configPath string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch cmd {
	case "status":
		return printStatus(ctx, st)
	case "check":
		return runSelfCheck(ctx, cfg, st)
	case "enable":
		return st.Write(ctx, func(tx *store.WriteTx) error {
			return tx.SetEnabled(true)
		})
	case "disable":
		mgr, err := buildManager(cfg, st, nil)
		if err != nil {
			return err
		}
		return st.Write(ctx, func(tx *store.WriteTx) error {
			return mgr.SetEnabled(tx, false, false)
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printStatus(ctx context.Context, st *store.Store) error {
	return st.Read(ctx, func(tx *store.ReadTx) error {
		enabled, err := tx.IsEnabled()
		if err != nil {
			return err
		}
		fmt.Printf("enabled:           %v\n", enabled)

		selfState, present, err := tx.SelfCheckState()
		if err != nil {
			return err
		}
		if present {
			fmt.Printf("self-check state:  %v\n", selfState)
		} else {
			fmt.Printf("self-check state:  never checked\n")
		}

		at, override, ok, err := tx.LastSelfCheck()
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("last self-check:   %s\n", at.Format(time.RFC3339))
			if override > 0 {
				fmt.Printf("next interval:     %s (override)\n", override)
			}
		} else {
			fmt.Printf("last self-check:   never\n")
		}

		head, err := tx.DistinguishedTreeHead()
		if err != nil {
			return err
		}
		if len(head) > 0 {
			fmt.Printf("tree head:         %s… (%d bytes)\n", hex.EncodeToString(head[:min(8, len(head))]), len(head))
		} else {
			fmt.Printf("tree head:         none\n")
		}

		n, err := tx.CountAccountData()
		if err != nil {
			return err
		}
		fmt.Printf("enrolled accounts: %d\n", n)
		return nil
	})
}

func runSelfCheck(ctx context.Context, cfg *config.Config, st *store.Store) error {
	if cfg.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url must be configured to run a check")
	}
	if cfg.Account.Path == "" {
		return fmt.Errorf("account.path must be configured to run a check")
	}

	acct, err := account.LoadFile(cfg.Account.Path, logging.Default().WithComponent("account"))
	if err != nil {
		return err
	}
	mgr, err := buildManager(cfg, st, acct)
	if err != nil {
		return err
	}
	if err := mgr.ForceSelfCheck(ctx); err != nil {
		return fmt.Errorf("self-check failed: %w", err)
	}
	fmt.Println("self-check succeeded")
	return nil
}

// buildManager wires a manager; acct may be nil for store-only commands.
func buildManager(cfg *config.Config, st *store.Store, acct *account.LocalAccount) (*manager.Manager, error) {
	if acct == nil {
		// Store-only commands never reach the collaborators; a placeholder
		// account with no material keeps the constructor satisfied.
		acct = &account.LocalAccount{}
	}
	client := wire.NewHTTPClient(wire.HTTPConfig{
		BaseURL:   cfg.Service.BaseURL,
		Timeout:   cfg.Service.Timeout.Std(),
		UserAgent: "ktcheck",
	})
	return manager.New(manager.Deps{
		Store: st,
		Connection: wire.ProviderFunc(func(ctx context.Context) (wire.Client, error) {
			return client, nil
		}),
		LogStore:        bridge.New(st),
		Keys:            acct,
		Recipients:      acct,
		Usernames:       acct,
		Discoverability: acct,
		Manifest:        acct,
		Device:          acct,
		Log:             logging.Default().WithComponent("kt-manager"),
	}, manager.Options{
		CheckInterval:            cfg.Check.Interval.Std(),
		BaseRetryDelay:           cfg.Check.BaseRetryDelay.Std(),
		MaxRetryDelay:            cfg.Check.MaxRetryDelay.Std(),
		JitterFactor:             cfg.Check.JitterFactor,
		ConservativeFailureReset: cfg.Check.ConservativeFailureReset,
	})
}
