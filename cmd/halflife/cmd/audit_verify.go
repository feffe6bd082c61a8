package cmd

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/halflife/audit"
)

// auditExport is the JSON structure produced when an audit log is
// exported for offline verification.
type auditExport struct {
	PublicKey string        `json:"public_key"`
	Entries   []audit.Entry `json:"entries"`
}

var verifyJSONOutput bool

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <export-file>",
	Short: "Verify an exported audit log",
	Long: `Verifies the hash chain and Ed25519 signatures of an exported audit
log. The export carries its own verification public key; pass --pubkey
to check against a trusted copy instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading export file: %w", err)
		}

		var export auditExport
		if err := json.Unmarshal(data, &export); err != nil {
			return fmt.Errorf("parsing export file: %w", err)
		}

		pubHex := export.PublicKey
		if flagPubKey != "" {
			pubHex = flagPubKey
		}
		pubBytes, err := hex.DecodeString(pubHex)
		if err != nil || len(pubBytes) != ed25519.PublicKeySize {
			return fmt.Errorf("invalid verification public key")
		}

		verifyErr := audit.Verify(export.Entries, ed25519.PublicKey(pubBytes))

		if verifyJSONOutput {
			result := map[string]any{
				"file":        args[0],
				"entry_count": len(export.Entries),
				"valid":       verifyErr == nil,
			}
			if verifyErr != nil {
				result["error"] = verifyErr.Error()
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
		} else {
			if verifyErr != nil {
				fmt.Printf("FAIL: %v\n", verifyErr)
			} else {
				fmt.Printf("OK: %d entries, chain and signatures verified\n", len(export.Entries))
			}
		}

		if verifyErr != nil {
			return fmt.Errorf("audit log verification failed")
		}
		return nil
	},
}

var flagPubKey string

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	auditVerifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Emit the verification result as JSON")
	auditVerifyCmd.Flags().StringVar(&flagPubKey, "pubkey", "", "Hex-encoded trusted verification public key")
}
