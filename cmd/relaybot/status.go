package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/dedupe"
	"relaybot/internal/journal"
)

func statusCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Run diagnostic checks on the configuration and its services",
		Long: `Verifies that the configuration loads, the listen port is free, the
capability services resolve, and the optional journal and Redis guard work.
Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			r := &report{out: out}
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "Relaybot status v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			// 1. Config
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (defaults + environment)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}
			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			// 2. Messenger credentials
			switch {
			case !cfg.Messenger.Enabled:
				r.warn("Messenger", "disabled")
			case cfg.Messenger.PageAccessToken == "":
				r.fail("Messenger", "enabled but PAGE_ACCESS_TOKEN is not set")
			default:
				r.pass("Messenger", "webhook at "+cfg.Messenger.WebhookPath)
			}

			// 3. Text generation
			bc := cfg.TextGeneration.Backends[cfg.TextGeneration.Backend]
			if bc.BackendType(cfg.TextGeneration.Backend) == "openai" && bc.APIKey == "" {
				r.warn("Text generation", cfg.TextGeneration.Backend+": no API key configured")
			} else {
				r.pass("Text generation", cfg.TextGeneration.Backend)
			}

			// 4. Listen port
			if err := checkPort(cfg.Server.Addr()); err != nil {
				r.warn("Listen port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
			} else {
				r.pass("Listen port", cfg.Server.Addr()+" available")
			}

			// 5. Capability services
			if !offline {
				for name, base := range map[string]string{
					"imagine": cfg.Capabilities.Imagine.APIBase,
					"gemini":  cfg.Capabilities.Gemini.APIBase,
					"spotify": cfg.Capabilities.Spotify.APIBase,
				} {
					if err := checkReachable(base); err != nil {
						r.warn("Service: "+name, err.Error())
					} else {
						r.pass("Service: "+name, base)
					}
				}
			}

			// 6. Journal
			if cfg.Journal.Enabled {
				if n, err := checkJournal(cfg.Journal.DBPath); err != nil {
					r.fail("Journal", err.Error())
				} else {
					r.pass("Journal", fmt.Sprintf("%s (%d entries)", cfg.Journal.DBPath, n))
				}
			}

			// 7. Redis guard
			if cfg.Dedupe.Enabled && cfg.Dedupe.RedisURL != "" && !offline {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				g, err := dedupe.NewRedisGuard(ctx, cfg.Dedupe.RedisURL, time.Minute)
				cancel()
				if err != nil {
					r.fail("Redis", err.Error())
				} else {
					g.Close()
					r.pass("Redis", "reachable")
				}
			}

			return r.summary()
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip network checks")
	return cmd
}

type report struct {
	out    io.Writer
	passed int
	warned int
	failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// checkReachable opens a TCP connection to the host of base.
func checkReachable(base string) error {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid apiBase %q", base)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(u.Hostname(), port), 5*time.Second)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	conn.Close()
	return nil
}

func checkJournal(path string) (int, error) {
	j, err := journal.Open(path, logger)
	if err != nil {
		return 0, err
	}
	defer j.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return j.Count(ctx)
}
