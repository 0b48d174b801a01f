package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vartec-chs/filecrypt/internal/archive"
	fcrypto "github.com/vartec-chs/filecrypt/internal/crypto"
	"github.com/vartec-chs/filecrypt/internal/engine"
)

var (
	encryptInputs    []string
	encryptOutput    string
	encryptPassword  string
	encryptStdinPass bool
	encryptNoGzip    bool
	encryptChunkSize uint32
	encryptUUID      string
	encryptQuiet     bool
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt one or more files or directories into a single artifact",
	RunE:  runEncrypt,
}

func init() {
	encryptCmd.Flags().StringArrayVarP(&encryptInputs, "input", "i", nil, "path to encrypt (repeatable; more than one bundles into one archive)")
	encryptCmd.Flags().StringVarP(&encryptOutput, "output", "o", "", "destination artifact path (required)")
	encryptCmd.Flags().StringVarP(&encryptPassword, "password", "p", "", "password (omit to be prompted, or use -P to read from stdin)")
	encryptCmd.Flags().BoolVarP(&encryptStdinPass, "stdin-password", "P", false, "read the password from stdin instead of prompting")
	encryptCmd.Flags().BoolVar(&encryptNoGzip, "no-gzip", false, "skip compression")
	encryptCmd.Flags().Uint32Var(&encryptChunkSize, "chunk-size", engine.DefaultChunkSize, "chunk size in bytes for the streaming cipher")
	encryptCmd.Flags().StringVar(&encryptUUID, "uuid", "", "artifact UUID (default: freshly generated)")
	encryptCmd.Flags().BoolVarP(&encryptQuiet, "quiet", "q", false, "suppress progress output")
	_ = encryptCmd.MarkFlagRequired("input")
	_ = encryptCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(encryptCmd)
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	passphrase, err := resolveEncryptPassphrase()
	if err != nil {
		return err
	}

	ctx, reporter := newCancellableContext(encryptQuiet)
	defer reporter.Finish()

	reporter.SetStatus("Preparing")
	prepared, cleanup, err := archive.PrepareMany(ctx, encryptInputs, encryptNoGzip)
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}
	defer cleanup()

	payload, err := os.Open(prepared.PayloadPath)
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}
	defer payload.Close()

	reporter.SetStatus("Encrypting")
	res, err := engine.Encrypt(ctx, engine.EncryptInput{
		Payload:           payload,
		PayloadSize:       prepared.PayloadSize,
		OutputPath:        encryptOutput,
		Passphrase:        passphrase,
		UUID:              encryptUUID,
		OriginalName:      prepared.OriginalName,
		OriginalExtension: prepared.OriginalExtension,
		WasDirectory:      prepared.WasDirectory,
		IsCompressed:      prepared.IsCompressed,
		OriginalSize:      prepared.OriginalSize,
		ChunkSize:         encryptChunkSize,
		KDFParams:         fcrypto.DefaultParams,
		Progress:          reporter.Progress,
	})
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	reporter.PrintSuccess("Encrypted %d input(s) -> %s (uuid %s)", len(encryptInputs), res.OutputPath, res.UUID)
	return nil
}

func resolveEncryptPassphrase() (string, error) {
	if encryptPassword != "" {
		return encryptPassword, nil
	}
	return resolvePassphrase(encryptStdinPass, !encryptStdinPass)
}
