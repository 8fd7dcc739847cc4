package storage

import (
	"fmt"
	"log"
	"strings"
)

// Debug controls verbose logging
var Debug bool

// debugLog prints a log message only if Debug is true
func debugLog(format string, v ...interface{}) {
	if Debug {
		log.Printf(format, v...)
	}
}

// Option keys understood by Configure
const (
	OptLocalTmpDir          = "local_tmp_dir"
	OptRemoteUploadLocation = "remote_upload_location"
	OptLocale               = "locale"

	OptFTPServerAddress = "ftp_server_address"
	OptFTPUserName      = "ftp_user_name"
	OptFTPUserPass      = "ftp_user_pass"
	OptFTPPort          = "ftp_port"
	OptFTPTimeout       = "ftp_timeout"

	OptSFTPHost     = "sftp_host"
	OptSFTPPort     = "sftp_port"
	OptSFTPUserName = "sftp_user_name"
	OptSFTPUserPass = "sftp_user_pass"
	OptSFTPKeyFile  = "sftp_key_file"

	OptS3Endpoint        = "s3_endpoint"
	OptS3Region          = "s3_region"
	OptS3Bucket          = "s3_bucket"
	OptS3AccessKeyID     = "s3_access_key_id"
	OptS3SecretAccessKey = "s3_secret_access_key"
)

// Options holds the configuration of a storage, keyed by the Opt* constants
type Options map[string]string

// DirectoryStorage defines the directory operations of a storage
type DirectoryStorage interface {
	// CreateDirectory creates a directory with a generated name inside url
	// and returns its path relative to the upload root
	CreateDirectory(url string) (string, error)

	// DeleteDirectory removes the directory url and everything below it
	DeleteDirectory(url string) error

	// MoveDirectory moves the directory source into the directory target
	// and returns the new relative path
	MoveDirectory(source, target string) (string, error)
}

// FileStorage defines the file operations of a storage
type FileStorage interface {
	// DeleteFile deletes the remote file url
	DeleteFile(url string) error

	// GetFile copies the remote file url into the local temp directory
	// and returns the local path of the copy
	GetFile(url string) (string, error)

	// SaveFile stores the local file source inside the remote directory url
	// under a generated name and returns its relative path
	SaveFile(source, url string) (string, error)

	// MoveFile moves the remote file source into the directory target
	// and returns the new relative path
	MoveFile(source, target string) (string, error)
}

// Storage is the full contract implemented by every backend
type Storage interface {
	DirectoryStorage
	FileStorage

	// Configure applies options; it fails without side effects on the
	// remaining fields as soon as one setter fails
	Configure(opts Options) error

	// Init makes a configured storage ready to exchange data
	Init() error

	// SetLocalTmpDir sets the local directory used for downloads
	SetLocalTmpDir(path string) error

	// SetRemoteUploadLocation sets the root all relative paths resolve against
	SetRemoteUploadLocation(path string) error

	// LastErrorCode returns the code recorded by the last operation
	LastErrorCode() Code

	// LastErrorMessage returns the localized label of LastErrorCode
	LastErrorMessage() (string, error)

	// Close closes any open connections
	Close() error
}

// Backend names accepted by New
const (
	BackendDisk = "disk"
	BackendFTP  = "ftp"
	BackendSFTP = "sftp"
	BackendS3   = "s3"
)

// New creates an unconfigured storage for the named backend
func New(backend string) (Storage, error) {
	switch strings.ToLower(backend) {
	case "", BackendDisk:
		return NewDiskStorage(), nil
	case BackendFTP:
		return NewFTPStorage(), nil
	case BackendSFTP:
		return NewSFTPStorage(), nil
	case BackendS3:
		return NewS3Storage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}

// RebuildPath joins root and relative with a single separator, omitting it
// when either side is empty
func RebuildPath(root, relative string) string {
	if relative == "" {
		return root
	}
	if root == "" {
		return relative
	}
	return root + "/" + relative
}
