package storage

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
)

const (
	defaultFTPPort    = 21
	defaultFTPTimeout = 10 * time.Second
)

// ftpConn is the subset of an FTP session used by FTPStorage
type ftpConn interface {
	Login(user, password string) error
	List(path string) ([]*ftp.Entry, error)
	NameList(path string) ([]string, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	MakeDir(path string) error
	RemoveDir(path string) error
	Quit() error
}

// serverConn adapts *ftp.ServerConn to ftpConn
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

func dialFTP(addr string, timeout time.Duration) (ftpConn, error) {
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return serverConn{c}, nil
}

// FTPStorage implements storage over a single FTP session
type FTPStorage struct {
	base

	serverAddress string
	userName      string
	userPass      string
	serverSet     bool
	port          int
	timeout       time.Duration

	conn     ftpConn
	loggedIn bool

	dial func(addr string, timeout time.Duration) (ftpConn, error)
}

// NewFTPStorage creates an unconfigured FTP storage
func NewFTPStorage() *FTPStorage {
	return &FTPStorage{
		base:    newBase(),
		port:    defaultFTPPort,
		timeout: defaultFTPTimeout,
		dial:    dialFTP,
	}
}

// Configure requires the server address, credentials, remote_upload_location
// and local_tmp_dir. The remote location is verified against the server.
func (f *FTPStorage) Configure(opts Options) error {
	locale, err := f.configure(opts, OptFTPServerAddress, OptFTPUserName, OptFTPUserPass, OptRemoteUploadLocation)
	if err != nil {
		return err
	}

	f.port = defaultFTPPort
	if v, ok := opts[OptFTPPort]; ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return f.rejectOption(fmt.Errorf("invalid %s %q", OptFTPPort, v))
		}
		f.port = port
	}

	f.timeout = defaultFTPTimeout
	if v, ok := opts[OptFTPTimeout]; ok && v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return f.rejectOption(fmt.Errorf("invalid %s %q: %w", OptFTPTimeout, v, err))
		}
		f.timeout = timeout
	}

	if err := f.SetFTPServer(opts[OptFTPServerAddress], opts[OptFTPUserName], opts[OptFTPUserPass]); err != nil {
		return err
	}

	if err := f.SetRemoteUploadLocation(opts[OptRemoteUploadLocation]); err != nil {
		return err
	}

	f.locale = locale
	f.succeed()
	return nil
}

// SetFTPServer sets the server address and credentials. The address must be
// an IP address; on failure all three fields are left unset.
func (f *FTPStorage) SetFTPServer(address, user, pass string) error {
	f.serverAddress, f.userName, f.userPass = "", "", ""
	f.serverSet = false

	if net.ParseIP(address) == nil {
		return f.fail("set ftp server", address, WrongConfigurationLabel, fmt.Errorf("%q is not a valid IP address", address))
	}

	f.serverAddress, f.userName, f.userPass = address, user, pass
	f.serverSet = true
	f.succeed()
	return nil
}

// SetRemoteUploadLocation verifies that path is a directory on the server,
// using the live session or a short-lived one
func (f *FTPStorage) SetRemoteUploadLocation(remote string) error {
	const op = "set remote upload location"
	f.remoteUploadLocation = ""

	conn := f.conn
	if !f.loggedIn {
		c, err := f.openSession(op)
		if err != nil {
			return err
		}
		defer c.Quit()
		conn = c
	}

	if err := f.checkRemoteDirectory(conn, op, remote); err != nil {
		return err
	}

	f.remoteUploadLocation = remote
	f.succeed()
	return nil
}

func (f *FTPStorage) isConfigured() bool {
	return f.base.isConfigured() && f.serverSet
}

// IsConnected reports whether the last Init logged in successfully
func (f *FTPStorage) IsConnected() bool {
	return f.loggedIn
}

// openSession dials the configured server and logs in
func (f *FTPStorage) openSession(op string) (ftpConn, error) {
	if !f.serverSet {
		return nil, f.fail(op, "", FTPErrorOpenConn, errors.New("no FTP server configured"))
	}

	addr := net.JoinHostPort(f.serverAddress, strconv.Itoa(f.port))
	debugLog("Connecting to FTP server %s", addr)
	conn, err := f.dial(addr, f.timeout)
	if err != nil {
		return nil, f.fail(op, addr, FTPErrorOpenConn, err)
	}

	if err := conn.Login(f.userName, f.userPass); err != nil {
		conn.Quit()
		return nil, f.fail(op, addr, FTPErrorLogin, err)
	}

	return conn, nil
}

// Init opens the session used by every subsequent operation
func (f *FTPStorage) Init() error {
	if f.conn != nil {
		f.conn.Quit()
		f.conn = nil
	}
	f.loggedIn = false

	conn, err := f.openSession("init")
	if err != nil {
		return err
	}

	f.conn = conn
	f.loggedIn = true
	f.succeed()
	return nil
}

// Close ends the session
func (f *FTPStorage) Close() error {
	if f.conn == nil {
		return nil
	}

	err := f.conn.Quit()
	f.conn = nil
	f.loggedIn = false
	if err != nil {
		return f.fail("close", f.serverAddress, FTPErrorCloseConn, err)
	}

	f.succeed()
	return nil
}

func (f *FTPStorage) requireReady(op string) error {
	if !f.isConfigured() {
		return f.fail(op, "", NotConfigured, nil)
	}
	if !f.IsConnected() {
		return f.fail(op, "", NotConnected, nil)
	}
	return nil
}

// remoteStat looks p up in the listing of its parent directory
func remoteStat(conn ftpConn, p string) (exists, isDir bool) {
	p = path.Clean(p)
	if p == "/" || p == "." {
		return true, true
	}

	entries, err := conn.List(path.Dir(p))
	if err != nil {
		debugLog("Listing %s failed: %v", path.Dir(p), err)
		return false, false
	}

	name := path.Base(p)
	for _, e := range entries {
		if path.Base(e.Name) == name {
			return true, e.Type == ftp.EntryTypeFolder
		}
	}
	return false, false
}

func (f *FTPStorage) checkRemoteDirectory(conn ftpConn, op, p string) error {
	exists, isDir := remoteStat(conn, p)
	if !exists {
		return f.fail(op, p, DirectoryDoesNotExist, nil)
	}
	if !isDir {
		return f.fail(op, p, DirectoryExpected, nil)
	}
	return nil
}

func (f *FTPStorage) checkRemoteFile(conn ftpConn, op, p string) error {
	exists, isDir := remoteStat(conn, p)
	if !exists {
		return f.fail(op, p, FileDoesNotExist, nil)
	}
	if isDir {
		return f.fail(op, p, FileExpected, nil)
	}
	return nil
}

// generateNameInFTP returns a name under root that is absent from the
// server's listing of root. A failed listing counts as empty.
func (f *FTPStorage) generateNameInFTP(op, root string) (string, error) {
	taken := make(map[string]bool)
	names, err := f.conn.NameList(root)
	if err != nil {
		debugLog("Name listing of %s failed: %v", root, err)
	}
	for _, n := range names {
		taken[path.Base(n)] = true
	}

	return f.generateName(op, root, func(candidate string) bool {
		return taken[path.Base(candidate)]
	})
}

// DeleteFile deletes the remote file url
func (f *FTPStorage) DeleteFile(url string) error {
	const op = "delete file"
	if err := f.requireReady(op); err != nil {
		return err
	}

	filePath := RebuildPath(f.remoteUploadLocation, url)
	if err := f.checkRemoteFile(f.conn, op, filePath); err != nil {
		return err
	}

	if err := f.conn.Delete(filePath); err != nil {
		return f.fail(op, filePath, FTPErrorDelete, err)
	}

	f.succeed()
	return nil
}

// GetFile downloads the remote file url into the local temp directory
func (f *FTPStorage) GetFile(url string) (string, error) {
	const op = "get file"
	if err := f.requireReady(op); err != nil {
		return "", err
	}

	filePath := RebuildPath(f.remoteUploadLocation, url)
	if err := f.checkRemoteFile(f.conn, op, filePath); err != nil {
		return "", err
	}

	tmpFile, err := f.generateName(op, f.localTmpDir, localExists)
	if err != nil {
		return "", err
	}

	r, err := f.conn.Retr(filePath)
	if err != nil {
		return "", f.fail(op, filePath, FTPErrorGet, err)
	}
	n, err := writeLocalFile(tmpFile, r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", f.fail(op, filePath, FTPErrorGet, err)
	}

	debugLog("Downloaded %s to %s (%d bytes)", filePath, tmpFile, n)
	f.succeed()
	return tmpFile, nil
}

// SaveFile uploads the local file source into the remote directory url
func (f *FTPStorage) SaveFile(source, url string) (string, error) {
	const op = "save file"
	if err := f.requireReady(op); err != nil {
		return "", err
	}

	if err := f.checkFile(op, source); err != nil {
		return "", err
	}

	dirPath := RebuildPath(f.remoteUploadLocation, url)
	if err := f.checkRemoteDirectory(f.conn, op, dirPath); err != nil {
		return "", err
	}

	newFilePath, err := f.generateNameInFTP(op, dirPath)
	if err != nil {
		return "", err
	}
	saved := RebuildPath(url, path.Base(newFilePath))

	in, err := os.Open(source)
	if err != nil {
		return "", f.fail(op, source, FTPErrorPut, err)
	}
	defer in.Close()

	if err := f.conn.Stor(newFilePath, in); err != nil {
		return "", f.fail(op, newFilePath, FTPErrorPut, err)
	}

	debugLog("Uploaded %s to %s", source, newFilePath)
	f.succeed()
	return saved, nil
}

// MoveFile moves the remote file source into the remote directory target
func (f *FTPStorage) MoveFile(source, target string) (string, error) {
	const op = "move file"
	if err := f.requireReady(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(f.remoteUploadLocation, source)
	targetPath := RebuildPath(f.remoteUploadLocation, target)
	if err := f.checkRemoteFile(f.conn, op, sourcePath); err != nil {
		return "", err
	}
	if err := f.checkRemoteDirectory(f.conn, op, targetPath); err != nil {
		return "", err
	}

	return f.rename(op, sourcePath, target)
}

// MoveDirectory moves the remote directory source into the remote directory target
func (f *FTPStorage) MoveDirectory(source, target string) (string, error) {
	const op = "move directory"
	if err := f.requireReady(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(f.remoteUploadLocation, source)
	targetPath := RebuildPath(f.remoteUploadLocation, target)
	if err := f.checkRemoteDirectory(f.conn, op, sourcePath); err != nil {
		return "", err
	}
	if err := f.checkRemoteDirectory(f.conn, op, targetPath); err != nil {
		return "", err
	}

	return f.rename(op, sourcePath, target)
}

// rename moves sourcePath under the relative directory target
func (f *FTPStorage) rename(op, sourcePath, target string) (string, error) {
	moved := RebuildPath(target, path.Base(sourcePath))
	targetPath := RebuildPath(f.remoteUploadLocation, moved)

	if err := f.conn.Rename(sourcePath, targetPath); err != nil {
		return "", f.fail(op, sourcePath, FTPErrorRename, err)
	}

	f.succeed()
	return moved, nil
}

// CreateDirectory creates a directory with a generated name inside url
func (f *FTPStorage) CreateDirectory(url string) (string, error) {
	const op = "create directory"
	if err := f.requireReady(op); err != nil {
		return "", err
	}

	dirPath := RebuildPath(f.remoteUploadLocation, url)
	if err := f.checkRemoteDirectory(f.conn, op, dirPath); err != nil {
		return "", err
	}

	newDirPath, err := f.generateNameInFTP(op, dirPath)
	if err != nil {
		return "", err
	}
	created := RebuildPath(url, path.Base(newDirPath))

	if err := f.conn.MakeDir(newDirPath); err != nil {
		return "", f.fail(op, newDirPath, FTPErrorMkdir, err)
	}

	f.succeed()
	return created, nil
}

// DeleteDirectory removes the remote directory url and everything below it
func (f *FTPStorage) DeleteDirectory(url string) error {
	const op = "delete directory"
	if err := f.requireReady(op); err != nil {
		return err
	}

	dirPath := RebuildPath(f.remoteUploadLocation, url)
	if err := f.checkRemoteDirectory(f.conn, op, dirPath); err != nil {
		return err
	}

	if err := f.removeRecursive(dirPath); err != nil {
		return f.fail(op, dirPath, FTPErrorRmdir, err)
	}

	f.succeed()
	return nil
}

// removeRecursive removes p whether it is a file or a directory. When a
// direct removal fails the children are removed first and the directory
// removal is retried once.
func (f *FTPStorage) removeRecursive(p string) error {
	if f.conn.RemoveDir(p) == nil || f.conn.Delete(p) == nil {
		return nil
	}

	names, err := f.conn.NameList(p)
	if err != nil {
		debugLog("Name listing of %s failed: %v", p, err)
	}
	for _, n := range names {
		name := path.Base(n)
		if name == "." || name == ".." {
			continue
		}
		if err := f.removeRecursive(path.Join(p, name)); err != nil {
			debugLog("Removing %s failed: %v", path.Join(p, name), err)
		}
	}

	return f.conn.RemoveDir(p)
}
