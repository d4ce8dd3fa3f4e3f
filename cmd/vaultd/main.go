package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/vaultd/pkg/approval"
	"github.com/cuemby/vaultd/pkg/audit"
	"github.com/cuemby/vaultd/pkg/ceiling"
	"github.com/cuemby/vaultd/pkg/config"
	"github.com/cuemby/vaultd/pkg/cryptoprim"
	"github.com/cuemby/vaultd/pkg/health"
	"github.com/cuemby/vaultd/pkg/log"
	"github.com/cuemby/vaultd/pkg/metrics"
	"github.com/cuemby/vaultd/pkg/relay"
	"github.com/cuemby/vaultd/pkg/security"
	"github.com/cuemby/vaultd/pkg/snapshot"
	"github.com/cuemby/vaultd/pkg/vault"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vaultd",
	Short:   "vaultd - password-unlocked secret vault and capability-token service",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vaultd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("base-dir", "", "Vault data directory (overrides config/env)")
	rootCmd.PersistentFlags().String("relay-url", "", "Relay base URL (overrides config/env)")
	rootCmd.PersistentFlags().Bool("relay-mtls", false, "Present a vaultd-issued client certificate when dialing the relay")
	rootCmd.PersistentFlags().Bool("allow-test-scrypt", false, "Allow VAULTD_SCRYPT_N_OVERRIDE to weaken the KDF cost — never set in production")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initializeCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rotateKeyCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// loadConfig layers file < env < flags, per pkg/config's documented
// precedence.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(config.Default(), cfgPath)
	if err != nil {
		return cfg, err
	}
	cfg = config.ApplyEnv(cfg)

	if v, _ := cmd.Flags().GetString("base-dir"); v != "" {
		cfg.BaseDir = v
	}
	if v, _ := cmd.Flags().GetString("relay-url"); v != "" {
		cfg.RelayURL = v
	}
	cfg.AllowTestScrypt, _ = cmd.Flags().GetBool("allow-test-scrypt")
	if v, _ := cmd.Flags().GetBool("relay-mtls"); v {
		cfg.RelayMTLS = true
	}
	level, _ := cmd.Flags().GetString("log-level")
	cfg.LogLevel = level
	cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	return cfg, nil
}

// newVault constructs a Vault for cfg.BaseDir, honoring the scrypt-cost
// override only when the operator explicitly opted in.
func newVault(cfg config.Config) *vault.Vault {
	n := cfg.EffectiveScryptN(cryptoprim.ScryptN)
	if n != cryptoprim.ScryptN {
		return vault.NewTestVault(cfg.BaseDir, n)
	}
	return vault.New(cfg.BaseDir)
}

// relayTLSClient bootstraps (or loads) vaultd's local CA and relay
// client certificate and returns an *http.Client configured to present
// it, for use as relay.NewClient's tlsClient argument. The CA root is
// generated on first use and persisted under cfg.BaseDir; handing its
// public certificate to the relay operator out of band is how the relay
// learns to trust this instance's client certs.
func relayTLSClient(cfg config.Config) (*http.Client, error) {
	dir := security.RelayClientCertDir(cfg.BaseDir)

	ca := security.NewCertAuthority()
	if err := ca.LoadFromFiles(dir); err != nil {
		if err := ca.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize relay mTLS CA: %w", err)
		}
		if err := ca.SaveToFiles(dir); err != nil {
			return nil, fmt.Errorf("save relay mTLS CA: %w", err)
		}
	}

	var cert *tls.Certificate
	if loaded, err := security.LoadCertFromFile(dir); err == nil && !security.CertNeedsRotation(loaded.Leaf) {
		cert = loaded
	} else {
		issued, err := ca.IssueClientCertificate(cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("issue relay client certificate: %w", err)
		}
		if err := security.SaveCertToFile(issued, dir); err != nil {
			return nil, fmt.Errorf("save relay client certificate: %w", err)
		}
		cert = issued
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{*cert},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}, nil
}

// approvalCheck resolves cfg.ApprovalDir into the approval.CheckFunc for
// agent-initiated escalations beyond an agent's ceiling. None of this
// binary's subcommands calls it; it is for in-process callers of
// ceiling.IssueCapabilityAsAgent. With no directory configured it returns
// approval.AlwaysPending, so escalations stay pending until resolved
// through ceiling.ApproveEscalation/DenyEscalation instead.
func approvalCheck(cfg config.Config) approval.CheckFunc {
	if cfg.ApprovalDir == "" {
		return approval.AlwaysPending
	}
	return approval.FileCheck(cfg.ApprovalDir)
}

func readPassword(prompt string) (string, error) {
	if v := os.Getenv("VAULTD_PASSWORD"); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

var initializeCmd = &cobra.Command{
	Use:   "initialize",
	Short: "Create a new vault at the configured base directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		password, err := readPassword("New vault password: ")
		if err != nil {
			return err
		}
		v := newVault(cfg)
		if err := v.Initialize(password); err != nil {
			return fmt.Errorf("initialize vault: %w", err)
		}
		fmt.Println("vault initialized at", cfg.BaseDir)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the vault is initialized and unlocked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		v := newVault(cfg)
		s := v.Status()
		fmt.Printf("initialized: %v\n", s.Initialized)
		fmt.Printf("unlocked: %v\n", s.Unlocked)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Print how to lock a running unlock session (this command itself changes nothing)",
	Long: `vaultd holds exactly one vault resident in memory per "unlock" session
(one vault per container, per the concurrency model). This subcommand
exists for operator ergonomics in scripts that always pair "unlock" with
a matching "lock", but a freshly constructed Vault is already locked —
there is nothing to do here unless a signal to the running "unlock"
process is delivered, which is out of this CLI's scope.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("send SIGTERM/SIGINT to the running \"vaultd unlock\" process to lock it cleanly")
		return nil
	},
}

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Re-encrypt the vault under a new password",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		oldPassword, err := readPasswordNamed("VAULTD_OLD_PASSWORD", "Current vault password: ")
		if err != nil {
			return err
		}
		newPassword, err := readPasswordNamed("VAULTD_NEW_PASSWORD", "New vault password: ")
		if err != nil {
			return err
		}
		v := newVault(cfg)
		if err := v.Unlock(oldPassword); err != nil {
			return fmt.Errorf("unlock vault: %w", err)
		}
		defer v.Lock()
		if err := v.RotateEncryptionKey(newPassword); err != nil {
			return fmt.Errorf("rotate key: %w", err)
		}
		fmt.Println("vault key rotated")
		return nil
	},
}

func readPasswordNamed(envVar, prompt string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	return readPassword(prompt)
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the vault and run as the resident process for this session",
	Long: `Unlocks the vault and keeps it resident until the session timer expires,
a signal is received, or the metrics/health listener fails. While
unlocked it runs the three background tasks the concurrency model
requires: the vault's own session lock timer, the cached-snapshot
refresh loop, and the periodic escalation-request cleanup sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		password, err := readPassword("Vault password: ")
		if err != nil {
			return err
		}

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		v := newVault(cfg)
		if err := v.Unlock(password); err != nil {
			return fmt.Errorf("unlock vault: %w", err)
		}

		logger := log.WithComponent("vaultd")
		logger.Info().Str("base_dir", cfg.BaseDir).Msg("vault unlocked")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		boltStore, err := audit.NewBoltStore(cfg.BaseDir)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer func() { _ = boltStore.Close() }()
		auditLog := audit.NewLogger(boltStore, log.WithComponent("audit"))
		auditLog.Start(ctx)
		defer auditLog.Close()
		auditLog.LogJSON("", "vault.unlock", "", map[string]any{"base_dir": cfg.BaseDir})

		collector := metrics.NewCollector(v)
		collector.Start()
		defer collector.Stop()

		var pusher snapshot.Pusher
		var relayMonitor *health.RelayMonitor
		if cfg.RelayURL != "" {
			var tlsClient *http.Client
			if cfg.RelayMTLS {
				tlsClient, err = relayTLSClient(cfg)
				if err != nil {
					return fmt.Errorf("relay mTLS setup: %w", err)
				}
			}
			pusher = relay.NewClient(cfg.RelayURL, cfg.RelayAuthToken, tlsClient, log.WithComponent("relay"))
			relayMonitor = health.NewRelayMonitor(health.NewHTTPChecker(cfg.RelayURL+"/healthz"), health.DefaultConfig())
			relayMonitor.Start(ctx)
			defer relayMonitor.Stop()
		}
		refreshLoop := snapshot.NewRefreshLoop(v, pusher)
		refreshLoop.Audit = auditLog
		refreshLoop.Start(ctx)
		defer refreshLoop.Stop()

		stopCleanup := startCleanupSweep(ctx, v, logger)
		defer close(stopCleanup)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("/relay-health", func(w http.ResponseWriter, r *http.Request) {
			if relayMonitor == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if !relayMonitor.Status().Healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			logger.Error().Err(err).Msg("metrics server error")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)

		v.Lock()
		auditLog.LogJSON("", "vault.lock", "", nil)
		logger.Info().Msg("vault locked, shutdown complete")
		return nil
	},
}

// startCleanupSweep runs ceiling.CleanupOld on a fixed interval until
// stop is closed or ctx is cancelled, grounded on the same
// ticker+select cooperative-loop idiom snapshot.RefreshLoop uses.
func startCleanupSweep(ctx context.Context, v *vault.Vault, logger zerolog.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = ceiling.CleanupOld(v, ceiling.DefaultCleanupAge)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return stop
}

func init() {
	unlockCmd.Flags().String("metrics-addr", "127.0.0.1:9191", "Address for the /metrics and /healthz endpoints")
}
