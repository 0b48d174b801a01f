package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vartec-chs/filecrypt/internal/engine"
)

var (
	headerInput     string
	headerPassword  string
	headerStdinPass bool
)

var headerCmd = &cobra.Command{
	Use:   "header",
	Short: "Print an artifact's metadata without decrypting its contents",
	RunE:  runHeader,
}

func init() {
	headerCmd.Flags().StringVarP(&headerInput, "input", "i", "", "artifact path (required)")
	headerCmd.Flags().StringVarP(&headerPassword, "password", "p", "", "password (omit to be prompted, or use -P to read from stdin)")
	headerCmd.Flags().BoolVarP(&headerStdinPass, "stdin-password", "P", false, "read the password from stdin instead of prompting")
	_ = headerCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(headerCmd)
}

func runHeader(cmd *cobra.Command, args []string) error {
	passphrase, err := resolveHeaderPassphrase()
	if err != nil {
		return err
	}

	ctx, reporter := newCancellableContext(true)
	defer reporter.Finish()

	h, err := engine.ReadHeader(ctx, headerInput, passphrase)
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	fmt.Printf("uuid:               %s\n", h.UUID)
	fmt.Printf("original_name:      %s\n", h.OriginalName)
	fmt.Printf("original_extension: %s\n", h.OriginalExtension)
	fmt.Printf("was_directory:      %t\n", h.WasDirectory)
	fmt.Printf("is_compressed:      %t\n", h.IsCompressed)
	fmt.Printf("original_size:      %d\n", h.OriginalSize)
	fmt.Printf("compressed_size:    %d\n", h.CompressedSize)
	return nil
}

func resolveHeaderPassphrase() (string, error) {
	if headerPassword != "" {
		return headerPassword, nil
	}
	return resolvePassphrase(headerStdinPass, false)
}
