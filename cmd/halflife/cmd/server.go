package cmd

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/halflife/api"
	"github.com/jmcleod/halflife/audit"
	"github.com/jmcleod/halflife/daemon"
	"github.com/jmcleod/halflife/engine"
	"github.com/jmcleod/halflife/internal/util"
	"github.com/jmcleod/halflife/registry"
	bboltstorage "github.com/jmcleod/halflife/storage/bbolt"
	"github.com/jmcleod/halflife/validator"
)

var (
	port         int
	dataDir      string
	tlsCert      string
	tlsKey       string
	validators   int
	pollInterval time.Duration
	erasePasses  int
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the fragmentation engine server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if validators < 1 {
			return fmt.Errorf("at least one validator is required")
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		db, err := bbolt.Open(dataDir+"/halflife.db", 0600, nil)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		signingKey, err := loadOrCreateSigningKey(dataDir + "/audit.key")
		if err != nil {
			return err
		}
		auditLog, err := audit.NewLog(audit.NewBoltStore(db), signingKey, "halflife-daemon", audit.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}

		store := bboltstorage.NewStore(db)
		reg := registry.NewMemory()

		nodes := make([]*validator.Node, validators)
		clients := make([]validator.Client, validators)
		for i := range nodes {
			nodes[i] = validator.NewNode(fmt.Sprintf("validator-%d", i+1))
			clients[i] = nodes[i]
		}
		network := validator.NewNetwork(clients, validator.WithLogger(logger))

		daemonOpts := []daemon.Option{
			daemon.WithPollInterval(pollInterval),
			daemon.WithErasePasses(erasePasses),
			daemon.WithLogger(logger),
			daemon.WithAlertFunc(func(fragmentID string, err error) {
				logger.Error("CRITICAL: deletion unconfirmed",
					slog.String("fragment_id", fragmentID),
					slog.String("error", err.Error()),
				)
			}),
		}
		for _, n := range nodes {
			daemonOpts = append(daemonOpts, daemon.WithPurgeListener(n.Forget))
		}
		dm := daemon.New(reg, store, auditLog, daemonOpts...)

		engineOpts := []engine.Option{
			engine.WithLogger(logger),
			engine.WithDaemon(dm),
		}
		for _, n := range nodes {
			engineOpts = append(engineOpts, engine.WithRegistrar(n))
		}
		eng := engine.New(reg, store, network, auditLog, engineOpts...)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := dm.Start(ctx); err != nil {
			return err
		}
		defer dm.Stop()

		a := api.New(eng, api.WithLogger(logger), api.WithValidatorNode(nodes[0]))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/v1", a.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (data: %s, validators: %d)...\n", port, dataDir, validators)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// loadOrCreateSigningKey reads the Ed25519 audit signing seed from path,
// generating and persisting a fresh one on first boot.
func loadOrCreateSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("audit signing key at %s is corrupt", path)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading audit signing key: %w", err)
	}

	seed, err := util.RandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return nil, fmt.Errorf("persisting audit signing key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().IntVar(&validators, "validators", 3, "Number of in-process validator nodes")
	serverCmd.Flags().DurationVar(&pollInterval, "poll-interval", daemon.DefaultPollInterval, "Expiry daemon poll interval")
	serverCmd.Flags().IntVar(&erasePasses, "erase-passes", 7, "Overwrite passes at purge time")
}
