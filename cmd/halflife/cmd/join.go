package cmd

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/halflife/engine"
	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/internal/shamir"
	"github.com/jmcleod/halflife/internal/util"
	"github.com/jmcleod/halflife/timelock"
)

var joinOut string

var joinCmd = &cobra.Command{
	Use:   "join <fragment-dir>",
	Short: "Reconstruct a file from split fragments",
	Long: `Reads a fragment directory produced by split and reconstructs the
original file. The splitting process kept no trapdoor, so every fragment
is opened by its sequential squaring puzzle; fragments past their expiry
time are refused. The result must match the session's integrity tag.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := filepath.Clean(args[0])

		manifest, err := readSessionBundle(filepath.Join(dir, bundleManifest))
		if err != nil {
			return err
		}

		now := time.Now()
		var (
			shares  []shamir.Share
			expired int
		)
		defer func() {
			for i := range shares {
				util.WipeBytes(shares[i].Value)
			}
		}()

		for _, name := range manifest.Fragments {
			if len(shares) == manifest.Threshold {
				break
			}

			fb, err := readFragmentBundle(filepath.Join(dir, name))
			if err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, err)
				continue
			}
			if fb.SessionID != manifest.SessionID {
				fmt.Fprintf(os.Stderr, "skipping %s: belongs to session %s\n", name, fb.SessionID)
				continue
			}

			f := &fragment.Fragment{
				ID:             fb.FragmentID,
				SessionID:      fb.SessionID,
				Index:          fb.Index,
				ExpiresAt:      fb.ExpiresAt,
				ValidationHash: fb.ValidationHash,
			}
			if !fragment.VerifyValidationHash(f) {
				fmt.Fprintf(os.Stderr, "skipping %s: validation hash mismatch\n", name)
				continue
			}
			if f.Expired(now) {
				fmt.Fprintf(os.Stderr, "skipping %s: expired at %s\n", name, f.ExpiresAt.Format(time.RFC3339))
				expired++
				continue
			}

			var puzzle timelock.Puzzle
			if err := json.Unmarshal(fb.Puzzle, &puzzle); err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, err)
				continue
			}

			fmt.Printf("Solving %s (%d squarings)...\n", name, puzzle.Iterations)
			aad := engine.FragmentAAD(fb.SessionID, fb.FragmentID, fb.Index)
			plaintext, err := timelock.Solve(cmd.Context(), &puzzle, aad)
			if err != nil {
				return fmt.Errorf("solving %s: %w", name, err)
			}
			shares = append(shares, shamir.Share{Index: fb.Index, Value: plaintext})
		}

		if len(shares) < manifest.Threshold {
			if expired > 0 {
				return fmt.Errorf("%d fragment(s) past expiry: only %d of the required %d remain joinable", expired, len(shares), manifest.Threshold)
			}
			return fmt.Errorf("only %d usable fragment(s), need %d", len(shares), manifest.Threshold)
		}

		secret, err := shamir.Combine(shares)
		if err != nil {
			return fmt.Errorf("combining shares: %w", err)
		}
		defer util.WipeBytes(secret)

		mac := hmac.New(sha256.New, manifest.MACKey)
		mac.Write(secret)
		if !hmac.Equal(mac.Sum(nil), manifest.MAC) {
			return fmt.Errorf("reconstructed data failed the session integrity check")
		}

		out := joinOut
		if out == "" {
			out = strings.TrimSuffix(dir, ".fragments") + ".recovered"
		}
		if err := os.WriteFile(out, secret, 0600); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}

		fmt.Printf("Recovered %d bytes from %d fragments into %s\n", len(secret), len(shares), out)
		return nil
	},
}

func readSessionBundle(path string) (*sessionBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var b sessionBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if b.Threshold < 1 || len(b.Fragments) == 0 {
		return nil, fmt.Errorf("manifest %s carries no usable fragments", path)
	}
	return &b, nil
}

func readFragmentBundle(path string) (*fragmentBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b fragmentBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing fragment file: %w", err)
	}
	return &b, nil
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().StringVarP(&joinOut, "out", "o", "", "Output file (default <dir minus .fragments>.recovered)")
}
