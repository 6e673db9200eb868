package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"qqbridge/internal/config"
	"qqbridge/internal/onebot"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run diagnostic checks on the bridge setup",
		Long: `Verifies that the configuration loads, the host store opens, the OneBot
gateway answers and the listen port is free. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("qqbridge status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, failed, warned int

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'qqbridge init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			if groups := cfg.GroupIDs(); len(groups) == 0 {
				printWarn("Groups", "none configured")
				warned++
			} else {
				printPass("Groups", fmt.Sprintf("%d configured", len(groups)))
				passed++
			}

			if !cfg.Features.Interaction {
				printWarn("Interaction", "inbound commands are disabled")
				warned++
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if store, err := openStore(ctx, cfg, logger); err != nil {
				printFail("Host store", err.Error())
				failed++
			} else {
				store.Close()
				printPass("Host store", cfg.Store.Driver)
				passed++
			}

			if err := checkGateway(ctx, cfg); err != nil {
				printWarn("Gateway", fmt.Sprintf("%s unreachable: %v", cfg.Gateway.BaseURL, err))
				warned++
			} else {
				printPass("Gateway", cfg.Gateway.BaseURL)
				passed++
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Listen port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Listen port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkGateway treats any HTTP response as reachable; OneBot implementations
// differ in what they serve at the API root.
func checkGateway(ctx context.Context, cfg *config.Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Gateway.BaseURL, nil)
	if err != nil {
		return err
	}
	if cfg.Gateway.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.AccessToken)
	}
	resp, err := onebot.SharedHTTPClient(cfg.Timeout()).Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
