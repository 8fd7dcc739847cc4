package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Storage Storage `yaml:"storage" mapstructure:"storage"`
}

// Storage selects a backend and holds the settings of every backend
type Storage struct {
	Backend              string `yaml:"backend" mapstructure:"backend"`
	Locale               string `yaml:"locale,omitempty" mapstructure:"locale"`
	LocalTmpDir          string `yaml:"local_tmp_dir" mapstructure:"local_tmp_dir"`
	RemoteUploadLocation string `yaml:"remote_upload_location" mapstructure:"remote_upload_location"`

	FTP  FTP  `yaml:"ftp,omitempty" mapstructure:"ftp"`
	SFTP SFTP `yaml:"sftp,omitempty" mapstructure:"sftp"`
	S3   S3   `yaml:"s3,omitempty" mapstructure:"s3"`
}

// FTP represents FTP server configuration
type FTP struct {
	ServerAddress string `yaml:"server_address" mapstructure:"server_address"`
	Port          int    `yaml:"port,omitempty" mapstructure:"port"`
	UserName      string `yaml:"user_name" mapstructure:"user_name"`
	UserPass      string `yaml:"user_pass" mapstructure:"user_pass"`
	Timeout       string `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// SFTP represents SFTP server configuration
type SFTP struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port,omitempty" mapstructure:"port"`
	UserName string `yaml:"user_name" mapstructure:"user_name"`
	UserPass string `yaml:"user_pass,omitempty" mapstructure:"user_pass"`
	KeyFile  string `yaml:"key_file,omitempty" mapstructure:"key_file"`
}

// S3 represents S3-compatible storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Region          string `yaml:"region" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

// Keys lists every settings key in dotted form. Environment overrides are
// bound to these so they apply without a config file.
var Keys = []string{
	"storage.backend",
	"storage.locale",
	"storage.local_tmp_dir",
	"storage.remote_upload_location",
	"storage.ftp.server_address",
	"storage.ftp.port",
	"storage.ftp.user_name",
	"storage.ftp.user_pass",
	"storage.ftp.timeout",
	"storage.sftp.host",
	"storage.sftp.port",
	"storage.sftp.user_name",
	"storage.sftp.user_pass",
	"storage.sftp.key_file",
	"storage.s3.endpoint",
	"storage.s3.region",
	"storage.s3.bucket",
	"storage.s3.access_key_id",
	"storage.s3.secret_access_key",
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Options flattens the storage section into the option keys understood by
// the selected backend. Empty values are left out so that a missing setting
// is reported by the storage itself.
func (s Storage) Options() map[string]string {
	opts := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			opts[key] = value
		}
	}

	set("local_tmp_dir", s.LocalTmpDir)
	set("remote_upload_location", s.RemoteUploadLocation)
	set("locale", s.Locale)

	switch s.Backend {
	case "ftp":
		set("ftp_server_address", s.FTP.ServerAddress)
		set("ftp_user_name", s.FTP.UserName)
		// an empty password is a valid FTP password
		opts["ftp_user_pass"] = s.FTP.UserPass
		set("ftp_timeout", s.FTP.Timeout)
		if s.FTP.Port != 0 {
			opts["ftp_port"] = strconv.Itoa(s.FTP.Port)
		}
	case "sftp":
		set("sftp_host", s.SFTP.Host)
		set("sftp_user_name", s.SFTP.UserName)
		set("sftp_user_pass", s.SFTP.UserPass)
		set("sftp_key_file", s.SFTP.KeyFile)
		if s.SFTP.Port != 0 {
			opts["sftp_port"] = strconv.Itoa(s.SFTP.Port)
		}
	case "s3":
		set("s3_endpoint", s.S3.Endpoint)
		set("s3_region", s.S3.Region)
		set("s3_bucket", s.S3.Bucket)
		set("s3_access_key_id", s.S3.AccessKeyID)
		set("s3_secret_access_key", s.S3.SecretAccessKey)
	}

	return opts
}

// NeedsPassword reports whether the selected backend authenticates with a
// password that is not present in the configuration
func (s Storage) NeedsPassword() bool {
	switch s.Backend {
	case "ftp":
		return s.FTP.UserPass == ""
	case "sftp":
		return s.SFTP.UserPass == "" && s.SFTP.KeyFile == ""
	case "s3":
		return s.S3.SecretAccessKey == ""
	}
	return false
}

// SetPassword stores a password for the selected backend
func (s *Storage) SetPassword(password string) {
	switch s.Backend {
	case "ftp":
		s.FTP.UserPass = password
	case "sftp":
		s.SFTP.UserPass = password
	case "s3":
		s.S3.SecretAccessKey = password
	}
}
