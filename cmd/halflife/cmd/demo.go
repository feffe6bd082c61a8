package cmd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/halflife/audit"
	"github.com/jmcleod/halflife/daemon"
	"github.com/jmcleod/halflife/engine"
	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/registry"
	storagememory "github.com/jmcleod/halflife/storage/memory"
	"github.com/jmcleod/halflife/validator"
)

var (
	demoShares    int
	demoThreshold int
	demoExpiry    time.Duration
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a fragmentation lifecycle end to end",
	Long: `Fragments a demo secret, reconstructs it through the validator
quorum, waits for expiry, and shows the reconstruction failing once the
fragments have been purged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		_, signingKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		auditLog, err := audit.NewLog(audit.NewMemoryStore(), signingKey, "halflife-demo")
		if err != nil {
			return err
		}

		reg := registry.NewMemory()
		store := storagememory.NewStore()

		nodes := make([]*validator.Node, 3)
		clients := make([]validator.Client, 3)
		for i := range nodes {
			nodes[i] = validator.NewNode(fmt.Sprintf("validator-%d", i+1))
			clients[i] = nodes[i]
		}
		network := validator.NewNetwork(clients)

		dm := daemon.New(reg, store, auditLog,
			daemon.WithPollInterval(100*time.Millisecond),
			daemon.WithLogger(logger),
		)

		opts := []engine.Option{
			engine.WithLogger(logger),
			engine.WithDaemon(dm),
		}
		for _, n := range nodes {
			opts = append(opts, engine.WithRegistrar(n))
		}
		eng := engine.New(reg, store, network, auditLog, opts...)

		ctx := context.Background()
		if err := dm.Start(ctx); err != nil {
			return err
		}
		defer dm.Stop()

		secret := []byte("the launch codes are 0000, as always")
		fmt.Printf("Fragmenting %d-byte secret into %d shares (threshold %d, expiry %s)...\n",
			len(secret), demoShares, demoThreshold, demoExpiry)

		session, err := eng.Fragment(ctx, secret, fragment.Policy{
			Shares:         demoShares,
			Threshold:      demoThreshold,
			ExpiryDuration: demoExpiry,
			JitterRange:    demoExpiry / 20,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Session %s created with fragments:\n", session.ID)
		for _, id := range session.FragmentIDs {
			fmt.Printf("  %s\n", id)
		}

		candidates := session.FragmentIDs[:demoThreshold]
		result, err := eng.Reconstruct(ctx, session.ID, candidates)
		if err != nil {
			return err
		}
		fmt.Printf("\nReconstructed with %d fragments (window left %s): %q\n",
			len(result.FragmentsUsed), result.RemainingWindow.Round(time.Millisecond), result.Secret)

		fmt.Printf("\nWaiting %s for expiry...\n", demoExpiry+demoExpiry/10)
		time.Sleep(demoExpiry + demoExpiry/10)

		_, err = eng.Reconstruct(ctx, session.ID, candidates)
		fmt.Printf("Reconstruction after expiry: %v\n", err)

		entries, _ := auditLog.Entries()
		fmt.Printf("\nAudit log (%d entries) verifies: %v\n",
			len(entries), audit.Verify(entries, auditLog.PublicKey()) == nil)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntVar(&demoShares, "shares", 5, "Total fragments to create")
	demoCmd.Flags().IntVar(&demoThreshold, "threshold", 3, "Fragments required to reconstruct")
	demoCmd.Flags().DurationVar(&demoExpiry, "expiry", 10*time.Second, "Fragment lifetime")
}
