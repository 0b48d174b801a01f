package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/Picocrypt/zxcvbn-go"
	"golang.org/x/term"
)

// strengthHint returns a short human-readable strength label ("very
// weak" through "very strong") for a password's zxcvbn score, or "" for
// passwords shorter than 4 bytes. Scores 0-4 map to the zxcvbn
// convention (0 = weakest).
func strengthHint(password string) string {
	if len(password) < 4 {
		return ""
	}
	result := zxcvbn.PasswordStrength(password, nil)
	labels := [...]string{"very weak", "weak", "fair", "strong", "very strong"}
	score := result.Score
	if score < 0 {
		score = 0
	}
	if score > 4 {
		score = 4
	}
	return labels[score]
}

var (
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordEmpty    = errors.New("password cannot be empty")
)

// isTerminal returns true if stdin is a terminal (not piped/redirected).
func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readPasswordSecure reads a password from stdin without echo.
// Falls back to buffered read if stdin is not a terminal.
func readPasswordSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		// stdin is piped; read normally
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		pw = strings.TrimSuffix(pw, "\n")
		pw = strings.TrimSuffix(pw, "\r")
		return pw, nil
	}

	// Terminal mode: disable echo
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// ReadPasswordInteractive prompts for password interactively.
// If confirm is true, asks for confirmation (for encryption).
func ReadPasswordInteractive(confirm bool) (string, error) {
	password, err := readPasswordSecure("Password: ")
	if err != nil {
		return "", err
	}

	if password == "" {
		return "", ErrPasswordEmpty
	}

	if confirm {
		if hint := strengthHint(password); hint != "" {
			fmt.Fprintf(os.Stderr, "Password strength: %s\n", hint)
		}
		confirm, err := readPasswordSecure("Confirm password: ")
		if err != nil {
			return "", err
		}
		if password != confirm {
			return "", ErrPasswordMismatch
		}
	}

	return password, nil
}

// resolvePassphrase reads a password either from stdin (when fromStdin
// is set, e.g. the -P flag) or interactively from the terminal, asking
// for confirmation when confirm is true (the encrypt path).
func resolvePassphrase(fromStdin, confirm bool) (string, error) {
	if fromStdin {
		pw, err := ReadPasswordFromStdin()
		if err != nil {
			return "", err
		}
		if pw == "" {
			return "", ErrPasswordEmpty
		}
		return pw, nil
	}
	return ReadPasswordInteractive(confirm)
}

// ReadPasswordFromStdin reads password from stdin (for piped input with -P flag).
func ReadPasswordFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	pw, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	pw = strings.TrimSuffix(pw, "\n")
	pw = strings.TrimSuffix(pw, "\r")
	return pw, nil
}
