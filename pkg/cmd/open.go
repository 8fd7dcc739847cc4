package cmd

import (
	"fmt"
	"os"

	"github.com/logandonley/storageapi/pkg/config"
	"github.com/logandonley/storageapi/pkg/storage"
	"golang.org/x/term"
)

// Opener returns a storage that is configured and ready to use
type Opener func() (storage.Storage, error)

// Open creates, configures and initializes the storage described by cfg.
// A missing password is read from the terminal when stdin is one.
func Open(cfg *config.Config) (storage.Storage, error) {
	sc := cfg.Storage
	if sc.NeedsPassword() && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Printf("Enter %s password: ", sc.Backend)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		sc.SetPassword(string(password))
	}

	s, err := storage.New(sc.Backend)
	if err != nil {
		return nil, err
	}

	if err := s.Configure(sc.Options()); err != nil {
		return nil, describe(s, "failed to configure storage", err)
	}

	if err := s.Init(); err != nil {
		return nil, describe(s, "failed to initialize storage", err)
	}

	return s, nil
}

// describe prefixes err with the localized label of the storage's last code
func describe(s storage.Storage, action string, err error) error {
	msg, lerr := s.LastErrorMessage()
	if lerr != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%s: %s: %w", action, msg, err)
}
