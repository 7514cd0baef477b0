package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/relaygate/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, store, and registry health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("relaygate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Store:")
	fmt.Printf("    %-10s %s\n", "Backend:", cfg.Store.Backend)
	if cfg.Store.Backend == "postgres" {
		if cfg.Store.PostgresDSN == "" {
			fmt.Printf("    %-10s RELAYGATE_POSTGRES_DSN not set\n", "Status:")
		} else if db, err := sql.Open("pgx", cfg.Store.PostgresDSN); err != nil {
			fmt.Printf("    %-10s OPEN FAILED (%s)\n", "Status:", err)
		} else {
			defer db.Close()
			if err := db.Ping(); err != nil {
				fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", err)
			} else {
				fmt.Printf("    %-10s OK\n", "Status:")
			}
		}
	}

	fmt.Println()
	fmt.Println("  Registry:")
	if cfg.Router.RegistryEndpoint == "" {
		fmt.Printf("    %-10s not configured (registry routing disabled)\n", "Endpoint:")
	} else {
		fmt.Printf("    %-10s %s", "Endpoint:", cfg.Router.RegistryEndpoint)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Router.RegistryEndpoint, nil)
		if resp, err := http.DefaultClient.Do(req); err != nil {
			fmt.Printf(" (UNREACHABLE: %s)\n", err)
		} else {
			resp.Body.Close()
			fmt.Printf(" (%s)\n", resp.Status)
		}
	}

	fmt.Println()
	fmt.Println("  Runtime:")
	if cfg.Runtime.Endpoint == "" {
		fmt.Printf("    %-10s not configured (messages will only be acknowledged)\n", "Endpoint:")
	} else {
		fmt.Printf("    %-10s %s\n", "Endpoint:", cfg.Runtime.Endpoint)
	}
}
