package storage

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeDialer serves SFTP from the local filesystem over an in-process pipe
func pipeDialer(dials *int) sftpDialer {
	return func(cfg *SFTPConfig) (*sftpSession, Code, error) {
		*dials++
		serverConn, clientConn := net.Pipe()

		server, err := sftp.NewServer(serverConn)
		if err != nil {
			return nil, SFTPErrorOpenConn, err
		}
		go server.Serve()

		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			server.Close()
			return nil, SFTPErrorOpenConn, err
		}
		return &sftpSession{client: client, transport: server}, NoErrors, nil
	}
}

func sftpOptions(local, upload string) Options {
	return Options{
		OptLocalTmpDir:          local,
		OptRemoteUploadLocation: upload,
		OptSFTPHost:             "nas.local",
		OptSFTPUserName:         "backups",
		OptSFTPUserPass:         "secret",
	}
}

// setupSFTP returns a connected SFTP storage whose upload location is a
// local temp directory
func setupSFTP(t *testing.T) (*SFTPStorage, string, string) {
	t.Helper()
	local := t.TempDir()
	upload := t.TempDir()

	var dials int
	s := NewSFTPStorage()
	s.dial = pipeDialer(&dials)
	require.NoError(t, s.Configure(sftpOptions(local, upload)))
	require.NoError(t, s.Init())
	require.True(t, s.IsConnected())
	t.Cleanup(func() { s.Close() })
	return s, local, upload
}

func TestSFTPConfigure(t *testing.T) {
	var dials int
	s := NewSFTPStorage()
	s.dial = pipeDialer(&dials)

	opts := sftpOptions(t.TempDir(), t.TempDir())
	opts[OptSFTPPort] = "2222"
	require.NoError(t, s.Configure(opts))
	assert.Equal(t, 2222, s.config.Port)
	assert.Equal(t, 1, dials)
	assert.False(t, s.IsConnected())
}

func TestSFTPConfigureErrors(t *testing.T) {
	var dials int
	s := NewSFTPStorage()
	s.dial = pipeDialer(&dials)

	opts := sftpOptions(t.TempDir(), t.TempDir())
	delete(opts, OptSFTPHost)
	assert.ErrorIs(t, s.Configure(opts), WrongConfigurationLabel)
	assert.Empty(t, s.localTmpDir)

	opts = sftpOptions(t.TempDir(), t.TempDir())
	delete(opts, OptSFTPUserPass)
	assert.ErrorIs(t, s.Configure(opts), WrongConfigurationLabel)
	assert.Nil(t, s.config)
	assert.Empty(t, s.localTmpDir)
	assert.Empty(t, s.remoteUploadLocation)

	opts = sftpOptions(t.TempDir(), t.TempDir())
	opts[OptSFTPPort] = "70000"
	assert.ErrorIs(t, s.Configure(opts), WrongConfigurationLabel)
	assert.Empty(t, s.localTmpDir)

	opts = sftpOptions(t.TempDir(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, s.Configure(opts), DirectoryDoesNotExist)
	assert.Empty(t, s.remoteUploadLocation)
	assert.Equal(t, 1, dials, "only the last configure reaches the server")
}

func TestSFTPInitFailureCodes(t *testing.T) {
	s := NewSFTPStorage()
	assert.ErrorIs(t, s.Init(), SFTPErrorOpenConn)

	s.config = &SFTPConfig{Host: "nas.local", Port: 22, Username: "backups", Password: "wrong"}
	s.dial = func(*SFTPConfig) (*sftpSession, Code, error) {
		return nil, SFTPErrorLogin, errors.New("ssh: unable to authenticate")
	}
	assert.ErrorIs(t, s.Init(), SFTPErrorLogin)
	assert.False(t, s.IsConnected())
}

func TestDialSFTPConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	_, code, err := dialSFTP(&SFTPConfig{Host: "127.0.0.1", Port: port, Username: "u", Password: "p"})
	require.Error(t, err)
	assert.Equal(t, SFTPErrorOpenConn, code)
}

func TestDialSFTPHandshakeFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	port := l.Addr().(*net.TCPAddr).Port
	_, code, err := dialSFTP(&SFTPConfig{Host: "127.0.0.1", Port: port, Username: "u", Password: "p"})
	require.Error(t, err)
	assert.Equal(t, SFTPErrorLogin, code)
}

func TestAuthMethods(t *testing.T) {
	_, err := authMethods(&SFTPConfig{})
	assert.Error(t, err)

	methods, err := authMethods(&SFTPConfig{Password: "secret"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)

	_, err = authMethods(&SFTPConfig{KeyFile: filepath.Join(t.TempDir(), "id_rsa")})
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0600))
	_, err = authMethods(&SFTPConfig{KeyFile: garbage})
	assert.Error(t, err)
}

func TestSFTPOperationsBeforeInit(t *testing.T) {
	s := NewSFTPStorage()
	_, err := s.SaveFile("a", "")
	assert.ErrorIs(t, err, NotConfigured)

	var dials int
	s.dial = pipeDialer(&dials)
	require.NoError(t, s.Configure(sftpOptions(t.TempDir(), t.TempDir())))
	assert.ErrorIs(t, s.DeleteFile("a"), NotConnected)
}

func TestSFTPSaveAndGetFile(t *testing.T) {
	s, local, upload := setupSFTP(t)
	source := filepath.Join(local, "photo.jpg")
	writeFile(t, source, "jpeg bytes")

	saved, err := s.SaveFile(source, "")
	require.NoError(t, err)
	assert.Len(t, saved, nameLength)
	assert.Equal(t, "jpeg bytes", readFile(t, filepath.Join(upload, saved)))

	tmp, err := s.GetFile(saved)
	require.NoError(t, err)
	assert.Equal(t, local, filepath.Dir(tmp))
	assert.Equal(t, "jpeg bytes", readFile(t, tmp))
}

func TestSFTPFileErrors(t *testing.T) {
	s, local, upload := setupSFTP(t)
	require.NoError(t, os.Mkdir(filepath.Join(upload, "dir"), 0755))
	writeFile(t, filepath.Join(upload, "plain"), "x")
	source := filepath.Join(local, "a.txt")
	writeFile(t, source, "data")

	_, err := s.GetFile("missing")
	assert.ErrorIs(t, err, FileDoesNotExist)

	_, err = s.GetFile("dir")
	assert.ErrorIs(t, err, FileExpected)

	_, err = s.SaveFile(source, "plain")
	assert.ErrorIs(t, err, DirectoryExpected)

	assert.ErrorIs(t, s.DeleteFile("dir"), FileExpected)
	assert.ErrorIs(t, s.DeleteFile("missing"), FileDoesNotExist)
}

func TestSFTPMoveAndDeleteFile(t *testing.T) {
	s, _, upload := setupSFTP(t)
	require.NoError(t, os.Mkdir(filepath.Join(upload, "archive"), 0755))
	writeFile(t, filepath.Join(upload, "a.txt"), "archived")

	moved, err := s.MoveFile("a.txt", "archive")
	require.NoError(t, err)
	assert.Equal(t, "archive/a.txt", moved)
	assert.NoFileExists(t, filepath.Join(upload, "a.txt"))

	tmp, err := s.GetFile(moved)
	require.NoError(t, err)
	assert.Equal(t, "archived", readFile(t, tmp))

	require.NoError(t, s.DeleteFile(moved))
	assert.NoFileExists(t, filepath.Join(upload, "archive", "a.txt"))
}

func TestSFTPDirectories(t *testing.T) {
	s, _, upload := setupSFTP(t)

	parent, err := s.CreateDirectory("")
	require.NoError(t, err)
	child, err := s.CreateDirectory(parent)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(upload, child))
	writeFile(t, filepath.Join(upload, child, "f.txt"), "deep")

	target, err := s.CreateDirectory("")
	require.NoError(t, err)

	moved, err := s.MoveDirectory(parent, target)
	require.NoError(t, err)
	assert.Equal(t, target+"/"+parent, moved)
	assert.NoDirExists(t, filepath.Join(upload, parent))

	require.NoError(t, s.DeleteDirectory(target))
	assert.NoDirExists(t, filepath.Join(upload, target))
	assert.ErrorIs(t, s.DeleteDirectory(target), DirectoryDoesNotExist)

	_, err = s.CreateDirectory("missing")
	assert.ErrorIs(t, err, DirectoryDoesNotExist)
}

func TestSFTPClose(t *testing.T) {
	s, _, _ := setupSFTP(t)
	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
	require.NoError(t, s.Close())
}

func TestSFTPPortOption(t *testing.T) {
	var got *SFTPConfig
	s := NewSFTPStorage()
	var dials int
	inner := pipeDialer(&dials)
	s.dial = func(cfg *SFTPConfig) (*sftpSession, Code, error) {
		got = cfg
		return inner(cfg)
	}

	require.NoError(t, s.Configure(sftpOptions(t.TempDir(), t.TempDir())))
	require.NotNil(t, got)
	assert.Equal(t, defaultSFTPPort, got.Port)
	assert.Equal(t, "backups", got.Username)
}
