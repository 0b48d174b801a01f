package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vartec-chs/filecrypt/internal/archive"
	"github.com/vartec-chs/filecrypt/internal/engine"
)

var (
	decryptInput     string
	decryptOutput    string
	decryptPassword  string
	decryptStdinPass bool
	decryptQuiet     bool
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt an artifact back to its original file or directory",
	RunE:  runDecrypt,
}

func init() {
	decryptCmd.Flags().StringVarP(&decryptInput, "input", "i", "", "artifact path to decrypt (required)")
	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "destination directory; the artifact is restored as <output>/<original_name>[.<original_extension>] (required)")
	decryptCmd.Flags().StringVarP(&decryptPassword, "password", "p", "", "password (omit to be prompted, or use -P to read from stdin)")
	decryptCmd.Flags().BoolVarP(&decryptStdinPass, "stdin-password", "P", false, "read the password from stdin instead of prompting")
	decryptCmd.Flags().BoolVarP(&decryptQuiet, "quiet", "q", false, "suppress progress output")
	_ = decryptCmd.MarkFlagRequired("input")
	_ = decryptCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(decryptCmd)
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	passphrase, err := resolveDecryptPassphrase()
	if err != nil {
		return err
	}

	ctx, reporter := newCancellableContext(decryptQuiet)
	defer reporter.Finish()

	reporter.SetStatus("Reading header")
	h, err := engine.ReadHeader(ctx, decryptInput, passphrase)
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	tmpFile, err := os.CreateTemp("", "filecrypt-payload-*.tmp")
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer os.Remove(tmpPath)

	reporter.SetStatus("Decrypting")
	if _, err := engine.Decrypt(ctx, engine.DecryptInput{
		ArtifactPath: decryptInput,
		OutputPath:   tmpPath,
		Passphrase:   passphrase,
		Progress:     reporter.Progress,
	}); err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	reporter.SetStatus("Restoring")
	destPath := filepath.Join(decryptOutput, h.RestoreName())
	if err := archive.Restore(ctx, tmpPath, h, destPath); err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	reporter.PrintSuccess("Decrypted %s -> %s", decryptInput, destPath)
	return nil
}

func resolveDecryptPassphrase() (string, error) {
	if decryptPassword != "" {
		return decryptPassword, nil
	}
	return resolvePassphrase(decryptStdinPass, false)
}
