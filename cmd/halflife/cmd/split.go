package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/halflife/audit"
	"github.com/jmcleod/halflife/engine"
	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/registry"
	storagememory "github.com/jmcleod/halflife/storage/memory"
	"github.com/jmcleod/halflife/timelock"
	"github.com/jmcleod/halflife/validator"
)

// bundleManifest is the manifest file name inside a fragment directory.
const bundleManifest = "session.json"

// sessionBundle is the manifest split writes next to the fragment files.
// It carries the session metadata and integrity material a later join
// needs. No trapdoor is part of it: once the splitting process exits,
// every fragment can only be opened the slow way, and only while its
// expiry window is open.
type sessionBundle struct {
	SessionID string    `json:"session_id"`
	Threshold int       `json:"threshold"`
	Shares    int       `json:"shares"`
	CreatedAt time.Time `json:"created_at"`
	MACKey    []byte    `json:"mac_key"`
	MAC       []byte    `json:"mac"`
	Fragments []string  `json:"fragments"`
}

// fragmentBundle is one exported fragment: its identity metadata plus
// the sealed puzzle blob as persisted by the engine.
type fragmentBundle struct {
	FragmentID     string          `json:"fragment_id"`
	SessionID      string          `json:"session_id"`
	Index          int             `json:"index"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ValidationHash []byte          `json:"validation_hash"`
	Puzzle         json.RawMessage `json:"puzzle"`
}

var (
	splitShares      int
	splitThreshold   int
	splitExpiry      time.Duration
	splitJitter      time.Duration
	splitOut         string
	splitModulusBits int
	splitSolveRate   uint64
)

var splitCmd = &cobra.Command{
	Use:   "split <file>",
	Short: "Fragment a file into time-limited shares on disk",
	Long: `Splits a file into threshold fragments and writes them, together with a
session manifest, to an output directory. The trapdoors die with this
process, so joining the fragments later requires the sequential squaring
work the puzzles were calibrated for, and succeeds only while the
fragments' expiry windows are open.

The --solve-rate flag is the assumed solver throughput used to calibrate
puzzle hardness against the expiry duration. Lower it for demonstration
runs so that joining finishes quickly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading input file: %w", err)
		}

		outDir := splitOut
		if outDir == "" {
			outDir = args[0] + ".fragments"
		}
		if err := os.MkdirAll(outDir, 0700); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		_, signingKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		auditLog, err := audit.NewLog(audit.NewMemoryStore(), signingKey, "halflife-split")
		if err != nil {
			return err
		}

		reg := registry.NewMemory()
		store := storagememory.NewStore()
		eng := engine.New(reg, store, validator.NewNetwork(nil), auditLog,
			engine.WithLogger(logger),
			engine.WithTimelockModulusBits(splitModulusBits),
			engine.WithAdversaryModel(splitSolveRate, engine.DefaultCalibrationMargin),
		)

		session, err := eng.Fragment(cmd.Context(), secret, fragment.Policy{
			Shares:         splitShares,
			Threshold:      splitThreshold,
			ExpiryDuration: splitExpiry,
			JitterRange:    splitJitter,
		})
		if err != nil {
			return err
		}

		bundle := sessionBundle{
			SessionID: session.ID,
			Threshold: session.Threshold,
			Shares:    session.Shares,
			CreatedAt: session.CreatedAt,
			MACKey:    session.MACKey,
			MAC:       session.MAC,
		}

		for _, id := range session.FragmentIDs {
			entry, err := reg.Get(id)
			if err != nil {
				return err
			}
			blob, err := store.Read(entry.Location)
			if err != nil {
				return err
			}
			f := entry.Fragment
			fb := fragmentBundle{
				FragmentID:     f.ID,
				SessionID:      f.SessionID,
				Index:          f.Index,
				ExpiresAt:      f.ExpiresAt,
				ValidationHash: f.ValidationHash,
				Puzzle:         blob,
			}
			name := fmt.Sprintf("fragment-%d.json", f.Index)
			if err := writeBundleFile(filepath.Join(outDir, name), fb); err != nil {
				return err
			}
			bundle.Fragments = append(bundle.Fragments, name)
			// No trapdoor leaves the process.
			entry.Trapdoor.Destroy()
		}

		if err := writeBundleFile(filepath.Join(outDir, bundleManifest), bundle); err != nil {
			return err
		}

		fmt.Printf("Split %d bytes into %d fragments (threshold %d) under %s\n",
			len(secret), session.Shares, session.Threshold, outDir)
		fmt.Printf("Fragments expire around %s\n",
			session.CreatedAt.Add(splitExpiry).Format(time.RFC3339))
		return nil
	},
}

func writeBundleFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.Flags().IntVar(&splitShares, "shares", 5, "Total fragments to create")
	splitCmd.Flags().IntVar(&splitThreshold, "threshold", 3, "Fragments required to join")
	splitCmd.Flags().DurationVar(&splitExpiry, "expiry", 10*time.Minute, "Fragment lifetime")
	splitCmd.Flags().DurationVar(&splitJitter, "jitter", 0, "Per-fragment expiry jitter range")
	splitCmd.Flags().StringVarP(&splitOut, "out", "o", "", "Output directory (default <file>.fragments)")
	splitCmd.Flags().IntVar(&splitModulusBits, "modulus-bits", timelock.DefaultModulusBits, "Puzzle modulus size in bits")
	splitCmd.Flags().Uint64Var(&splitSolveRate, "solve-rate", engine.DefaultSquaringsPerSecond, "Assumed solver squarings per second for puzzle calibration")
}
