package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/logandonley/storageapi/pkg/cmd"
	"github.com/logandonley/storageapi/pkg/config"
	"github.com/logandonley/storageapi/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	backend string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "storagectl",
	Short: "Manage files and directories on disk, FTP, SFTP or S3 storage",
	Long: `storagectl creates, moves, saves, retrieves and deletes files and
directories on a configured storage backend: the local disk, an FTP server,
an SFTP server or an S3 bucket. Every path is relative to the configured upload location.`,
	SilenceUsage: true,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		storage.Debug = debug
		if debug {
			log.Println("Debug mode enabled")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/storageapi/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "override the configured storage backend (disk, ftp, sftp or s3)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(cmd.InitCmd())
	rootCmd.AddCommand(cmd.MkdirCmd(openStorage))
	rootCmd.AddCommand(cmd.RmdirCmd(openStorage))
	rootCmd.AddCommand(cmd.MvdirCmd(openStorage))
	rootCmd.AddCommand(cmd.PutCmd(openStorage))
	rootCmd.AddCommand(cmd.GetCmd(openStorage))
	rootCmd.AddCommand(cmd.RmCmd(openStorage))
	rootCmd.AddCommand(cmd.MvCmd(openStorage))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in ~/.config/storageapi directory
		viper.AddConfigPath(filepath.Join(home, ".config", "storageapi"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	bindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		if debug {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	} else if debug {
		fmt.Printf("Error reading config file: %v\n", err)
	}
}

// bindEnv makes STORAGEAPI_STORAGE_BACKEND override storage.backend, and so
// on for every key. Keys are bound explicitly because Unmarshal only sees
// automatic env values for keys it already knows about.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("storageapi")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range config.Keys {
		_ = v.BindEnv(key)
	}
}

// loadConfig unmarshals the current viper settings
func loadConfig() (*config.Config, error) {
	return unmarshalConfig(viper.GetViper())
}

func unmarshalConfig(v *viper.Viper) (*config.Config, error) {
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendDisk
	}

	if debug {
		fmt.Printf("Storage config: backend=%s local_tmp_dir=%s remote_upload_location=%s\n",
			cfg.Storage.Backend, cfg.Storage.LocalTmpDir, cfg.Storage.RemoteUploadLocation)
	}
	return &cfg, nil
}

// openStorage creates a configured and initialized storage from the current configuration
func openStorage() (storage.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cmd.Open(cfg)
}
