package storage

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	defaultSFTPPort    = 22
	defaultSFTPTimeout = 10 * time.Second
)

// SFTPConfig holds the connection settings of an SFTP storage
type SFTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	KeyFile  string
}

// sftpSession is an authenticated SFTP client together with the transport
// it runs on
type sftpSession struct {
	client    *sftp.Client
	transport io.Closer
}

// sftpDialer opens a session; it returns the code to record on failure
type sftpDialer func(cfg *SFTPConfig) (*sftpSession, Code, error)

// SFTPStorage implements storage over SSH/SFTP
type SFTPStorage struct {
	base

	config  *SFTPConfig
	session *sftpSession

	dial sftpDialer
}

// NewSFTPStorage creates an unconfigured SFTP storage
func NewSFTPStorage() *SFTPStorage {
	return &SFTPStorage{
		base: newBase(),
		dial: dialSFTP,
	}
}

// authMethods builds the SSH auth methods from a key file and/or password
func authMethods(cfg *SFTPConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		// Expand home directory in key file path if needed
		keyFile := cfg.KeyFile
		if strings.HasPrefix(keyFile, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyFile = filepath.Join(home, keyFile[2:])
		}

		key, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file %s: %w", keyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no SSH key file or password configured")
	}
	return methods, nil
}

// dialSFTP connects over TCP, authenticates over SSH and starts the SFTP subsystem
func dialSFTP(cfg *SFTPConfig) (*sftpSession, Code, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, SFTPErrorLogin, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify host keys against a known_hosts file option
		Timeout:         defaultSFTPTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, defaultSFTPTimeout)
	if err != nil {
		return nil, SFTPErrorOpenConn, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, SFTPErrorLogin, fmt.Errorf("failed to establish SSH session: %w", err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, SFTPErrorOpenConn, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &sftpSession{client: client, transport: sshClient}, NoErrors, nil
}

func (s *sftpSession) close() error {
	var errs []error
	if err := s.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close SFTP client: %w", err))
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SSH client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Configure requires sftp_host, sftp_user_name, remote_upload_location and
// local_tmp_dir, plus sftp_key_file or sftp_user_pass
func (s *SFTPStorage) Configure(opts Options) error {
	s.config = nil
	locale, err := s.configure(opts, OptSFTPHost, OptSFTPUserName, OptRemoteUploadLocation)
	if err != nil {
		return err
	}

	cfg := &SFTPConfig{
		Host:     opts[OptSFTPHost],
		Port:     defaultSFTPPort,
		Username: opts[OptSFTPUserName],
		Password: opts[OptSFTPUserPass],
		KeyFile:  opts[OptSFTPKeyFile],
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return s.rejectOption(fmt.Errorf("one of %s or %s is required", OptSFTPKeyFile, OptSFTPUserPass))
	}
	if v, ok := opts[OptSFTPPort]; ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return s.rejectOption(fmt.Errorf("invalid %s %q", OptSFTPPort, v))
		}
		cfg.Port = port
	}
	s.config = cfg

	if err := s.SetRemoteUploadLocation(opts[OptRemoteUploadLocation]); err != nil {
		return err
	}

	s.locale = locale
	s.succeed()
	return nil
}

// SetRemoteUploadLocation verifies that remote is a directory on the server,
// using the live session or a short-lived one
func (s *SFTPStorage) SetRemoteUploadLocation(remote string) error {
	const op = "set remote upload location"
	s.remoteUploadLocation = ""

	session := s.session
	if session == nil {
		sess, err := s.openSession(op)
		if err != nil {
			return err
		}
		defer sess.close()
		session = sess
	}

	if err := s.checkRemoteDirectory(session.client, op, remote); err != nil {
		return err
	}

	s.remoteUploadLocation = remote
	s.succeed()
	return nil
}

func (s *SFTPStorage) openSession(op string) (*sftpSession, error) {
	if s.config == nil {
		return nil, s.fail(op, "", SFTPErrorOpenConn, errors.New("no SFTP server configured"))
	}
	debugLog("Connecting to SFTP server %s:%d as %s", s.config.Host, s.config.Port, s.config.Username)
	session, code, err := s.dial(s.config)
	if err != nil {
		return nil, s.fail(op, s.config.Host, code, err)
	}
	return session, nil
}

func (s *SFTPStorage) isConfigured() bool {
	return s.base.isConfigured() && s.config != nil
}

// IsConnected reports whether the last Init opened a session
func (s *SFTPStorage) IsConnected() bool {
	return s.session != nil
}

// Init opens the session used by every subsequent operation
func (s *SFTPStorage) Init() error {
	if s.session != nil {
		s.session.close()
		s.session = nil
	}

	session, err := s.openSession("init")
	if err != nil {
		return err
	}

	s.session = session
	s.succeed()
	return nil
}

// Close closes the SFTP and SSH connections
func (s *SFTPStorage) Close() error {
	if s.session == nil {
		return nil
	}

	err := s.session.close()
	s.session = nil
	if err != nil {
		return s.fail("close", "", SFTPErrorCloseConn, err)
	}

	s.succeed()
	return nil
}

func (s *SFTPStorage) requireReady(op string) error {
	if !s.isConfigured() {
		return s.fail(op, "", NotConfigured, nil)
	}
	if !s.IsConnected() {
		return s.fail(op, "", NotConnected, nil)
	}
	return nil
}

func (s *SFTPStorage) checkRemoteDirectory(client *sftp.Client, op, p string) error {
	info, err := client.Stat(p)
	if err != nil {
		return s.fail(op, p, DirectoryDoesNotExist, err)
	}
	if !info.IsDir() {
		return s.fail(op, p, DirectoryExpected, nil)
	}
	return nil
}

func (s *SFTPStorage) checkRemoteFile(client *sftp.Client, op, p string) error {
	info, err := client.Stat(p)
	if err != nil {
		return s.fail(op, p, FileDoesNotExist, err)
	}
	if !info.Mode().IsRegular() {
		return s.fail(op, p, FileExpected, nil)
	}
	return nil
}

func (s *SFTPStorage) remoteExists(p string) bool {
	_, err := s.session.client.Lstat(p)
	return !errors.Is(err, os.ErrNotExist)
}

// DeleteFile deletes the remote file url
func (s *SFTPStorage) DeleteFile(url string) error {
	const op = "delete file"
	if err := s.requireReady(op); err != nil {
		return err
	}

	filePath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteFile(s.session.client, op, filePath); err != nil {
		return err
	}

	if err := s.session.client.Remove(filePath); err != nil {
		return s.fail(op, filePath, SFTPErrorDelete, err)
	}

	s.succeed()
	return nil
}

// GetFile downloads the remote file url into the local temp directory
func (s *SFTPStorage) GetFile(url string) (string, error) {
	const op = "get file"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	filePath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteFile(s.session.client, op, filePath); err != nil {
		return "", err
	}

	tmpFile, err := s.generateName(op, s.localTmpDir, localExists)
	if err != nil {
		return "", err
	}

	remoteFile, err := s.session.client.Open(filePath)
	if err != nil {
		return "", s.fail(op, filePath, SFTPErrorGet, err)
	}
	defer remoteFile.Close()

	if _, err := writeLocalFile(tmpFile, remoteFile); err != nil {
		return "", s.fail(op, filePath, SFTPErrorGet, err)
	}

	s.succeed()
	return tmpFile, nil
}

// SaveFile uploads the local file source into the remote directory url
func (s *SFTPStorage) SaveFile(source, url string) (string, error) {
	const op = "save file"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	if err := s.checkFile(op, source); err != nil {
		return "", err
	}

	dirPath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteDirectory(s.session.client, op, dirPath); err != nil {
		return "", err
	}

	newFilePath, err := s.generateName(op, dirPath, s.remoteExists)
	if err != nil {
		return "", err
	}
	saved := RebuildPath(url, path.Base(newFilePath))

	if err := s.upload(source, newFilePath); err != nil {
		return "", s.fail(op, newFilePath, SFTPErrorPut, err)
	}

	s.succeed()
	return saved, nil
}

func (s *SFTPStorage) upload(localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	remoteFile, err := s.session.client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	if _, err := io.Copy(remoteFile, localFile); err != nil {
		remoteFile.Close()
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	return remoteFile.Close()
}

// MoveFile moves the remote file source into the remote directory target
func (s *SFTPStorage) MoveFile(source, target string) (string, error) {
	const op = "move file"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(s.remoteUploadLocation, source)
	targetPath := RebuildPath(s.remoteUploadLocation, target)
	if err := s.checkRemoteFile(s.session.client, op, sourcePath); err != nil {
		return "", err
	}
	if err := s.checkRemoteDirectory(s.session.client, op, targetPath); err != nil {
		return "", err
	}

	return s.rename(op, sourcePath, target)
}

// MoveDirectory moves the remote directory source into the remote directory target
func (s *SFTPStorage) MoveDirectory(source, target string) (string, error) {
	const op = "move directory"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(s.remoteUploadLocation, source)
	targetPath := RebuildPath(s.remoteUploadLocation, target)
	if err := s.checkRemoteDirectory(s.session.client, op, sourcePath); err != nil {
		return "", err
	}
	if err := s.checkRemoteDirectory(s.session.client, op, targetPath); err != nil {
		return "", err
	}

	return s.rename(op, sourcePath, target)
}

func (s *SFTPStorage) rename(op, sourcePath, target string) (string, error) {
	moved := RebuildPath(target, path.Base(sourcePath))
	targetPath := RebuildPath(s.remoteUploadLocation, moved)

	if err := s.session.client.Rename(sourcePath, targetPath); err != nil {
		return "", s.fail(op, sourcePath, SFTPErrorRename, err)
	}

	s.succeed()
	return moved, nil
}

// CreateDirectory creates a directory with a generated name inside url
func (s *SFTPStorage) CreateDirectory(url string) (string, error) {
	const op = "create directory"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	dirPath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteDirectory(s.session.client, op, dirPath); err != nil {
		return "", err
	}

	newDirPath, err := s.generateName(op, dirPath, s.remoteExists)
	if err != nil {
		return "", err
	}
	created := RebuildPath(url, path.Base(newDirPath))

	if err := s.session.client.Mkdir(newDirPath); err != nil {
		return "", s.fail(op, newDirPath, SFTPErrorMkdir, err)
	}

	s.succeed()
	return created, nil
}

// DeleteDirectory removes the remote directory url and everything below it
func (s *SFTPStorage) DeleteDirectory(url string) error {
	const op = "delete directory"
	if err := s.requireReady(op); err != nil {
		return err
	}

	dirPath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteDirectory(s.session.client, op, dirPath); err != nil {
		return err
	}

	if err := s.removeTree(dirPath); err != nil {
		return s.fail(op, dirPath, SFTPErrorRmdir, err)
	}

	s.succeed()
	return nil
}

// removeTree deletes dir depth-first, stopping at the first failure
func (s *SFTPStorage) removeTree(dir string) error {
	entries, err := s.session.client.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list remote directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		full := path.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := s.removeTree(full); err != nil {
				return err
			}
			continue
		}
		if err := s.session.client.Remove(full); err != nil {
			return fmt.Errorf("failed to delete remote file %s: %w", full, err)
		}
	}

	if err := s.session.client.RemoveDirectory(dir); err != nil {
		return fmt.Errorf("failed to delete remote directory %s: %w", dir, err)
	}
	return nil
}
