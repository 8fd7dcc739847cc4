package main

import (
	"fmt"
	"os"

	"github.com/logandonley/storageapi/pkg/cmd"
	"github.com/logandonley/storageapi/pkg/config"
	"github.com/logandonley/storageapi/pkg/storage"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and connect to the storage",
	Long: `Validate the configuration and connect to the configured storage backend.
It checks:
- Local temp directory existence
- Upload location existence on the backend
- Connectivity and login (FTP and SFTP)`,
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return validateConfiguration(cfg)
	},
}

func validateConfiguration(cfg *config.Config) error {
	sc := cfg.Storage
	fmt.Printf("🔍 Validating %s storage configuration...\n", sc.Backend)

	if err := validateDirectory(sc.LocalTmpDir); err != nil {
		return fmt.Errorf("local temp directory validation failed: %w", err)
	}
	fmt.Printf("✅ Local temp directory %s is accessible\n", sc.LocalTmpDir)

	fmt.Println("\n🔌 Testing storage connectivity...")
	s, err := cmd.Open(cfg)
	if err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}
	fmt.Printf("✅ Upload location %s is a directory\n", sc.RemoteUploadLocation)
	if sc.Backend != storage.BackendDisk {
		fmt.Printf("✅ Successfully connected to %s server\n", sc.Backend)
	}

	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	fmt.Println("\n✨ All validation checks passed successfully!")
	return nil
}

func validateDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return fmt.Errorf("cannot access directory: %s: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check if we can write into the directory
	f, err := os.CreateTemp(path, ".storageapi-check-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	f.Close()
	os.Remove(f.Name())

	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
