package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/logandonley/storageapi/pkg/config"
	"github.com/logandonley/storageapi/pkg/storage"
	"github.com/spf13/cobra"
)

const defaultConfig = `storage:
  # disk, ftp, sftp or s3
  backend: %s
  # en or es, used for error messages
  locale: en
  local_tmp_dir: %s
  remote_upload_location: %s

  ftp:
    server_address: 192.168.1.46
    # port: 21
    user_name: ftpuser
    # Leave empty to be prompted for the password
    user_pass: ""
    # timeout: 10s

  sftp:
    host: nas.example.com
    # port: 22
    user_name: user
    key_file: ~/.ssh/id_rsa

  s3:
    # endpoint: https://s3.us-west-000.backblazeb2.com
    region: us-east-1
    bucket: my-bucket
    access_key_id: ""
    # Leave empty to be prompted for the secret
    secret_access_key: ""
`

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	var (
		backend string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Create the configuration directory and a default configuration file.
The local temp directory and, for the disk backend, the upload location
are created as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := storage.New(backend); err != nil {
				return err
			}

			// Get home directory
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}

			// Create config directory
			configDir := filepath.Join(home, ".config", "storageapi")
			if err := os.MkdirAll(configDir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			configPath := filepath.Join(configDir, "config.yaml")
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite it", configPath)
			}

			dataDir := filepath.Join(home, ".local", "share", "storageapi")
			tmpDir := filepath.Join(dataDir, "tmp")
			uploadDir := "/upload"
			if backend == "disk" {
				uploadDir = filepath.Join(dataDir, "upload")
				if err := os.MkdirAll(uploadDir, 0755); err != nil {
					return fmt.Errorf("failed to create upload directory: %w", err)
				}
			}
			if err := os.MkdirAll(tmpDir, 0700); err != nil {
				return fmt.Errorf("failed to create temp directory: %w", err)
			}

			content := fmt.Sprintf(defaultConfig, backend, tmpDir, uploadDir)
			if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}

			// Make sure what we wrote parses back
			if _, err := config.LoadConfig(configPath); err != nil {
				return fmt.Errorf("written config file is invalid: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialization complete.\nConfig file created at: %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "disk", "storage backend (disk, ftp, sftp or s3)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
