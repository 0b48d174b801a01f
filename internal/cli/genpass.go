package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vartec-chs/filecrypt/internal/util"
)

var (
	genpassLength  int
	genpassUpper   bool
	genpassLower   bool
	genpassNumbers bool
	genpassSymbols bool
)

var genpassCmd = &cobra.Command{
	Use:   "genpass",
	Short: "Generate a cryptographically random password",
	RunE:  runGenpass,
}

func init() {
	genpassCmd.Flags().IntVarP(&genpassLength, "length", "l", 24, "password length")
	genpassCmd.Flags().BoolVar(&genpassUpper, "upper", true, "include uppercase letters")
	genpassCmd.Flags().BoolVar(&genpassLower, "lower", true, "include lowercase letters")
	genpassCmd.Flags().BoolVar(&genpassNumbers, "numbers", true, "include digits")
	genpassCmd.Flags().BoolVar(&genpassSymbols, "symbols", false, "include symbols")
	rootCmd.AddCommand(genpassCmd)
}

func runGenpass(cmd *cobra.Command, args []string) error {
	password, err := util.GenPassword(util.PassgenOptions{
		Length:  genpassLength,
		Upper:   genpassUpper,
		Lower:   genpassLower,
		Numbers: genpassNumbers,
		Symbols: genpassSymbols,
	})
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("no character set enabled, or length <= 0")
	}
	fmt.Println(password)
	return nil
}
