// Command filecrypt encrypts and decrypts files and directories with a
// passphrase-derived key, streaming in fixed-size chunks so memory use
// stays bounded regardless of input size.
package main

import "github.com/vartec-chs/filecrypt/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
