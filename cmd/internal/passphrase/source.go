package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase once and caches it: the environment
// variable wins, then an interactive terminal prompt. Repeated Get calls
// return the same secret (or the same failure).
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that consults envVar before prompting.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// Get returns the passphrase, resolving it on the first call. Whitespace-only
// passphrases are rejected so keystores cannot end up effectively
// unprotected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	return s.prompt()
}

func (s *Source) prompt() (string, error) {
	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		if s.envVar != "" {
			return "", fmt.Errorf("node keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("node keystore passphrase required and no terminal available")
	}

	fmt.Fprint(os.Stderr, "Enter node keystore passphrase: ")
	entered, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if strings.TrimSpace(string(entered)) == "" {
		return "", errors.New("node keystore passphrase cannot be empty")
	}
	return string(entered), nil
}
