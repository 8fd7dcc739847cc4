package storage

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildPath(t *testing.T) {
	tests := []struct {
		root, relative, want string
	}{
		{"", "a/b", "a/b"},
		{"/upload", "", "/upload"},
		{"", "", ""},
		{"/upload", "x", "/upload/x"},
		{"/upload", "x/y", "/upload/x/y"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RebuildPath(tt.root, tt.relative), "RebuildPath(%q, %q)", tt.root, tt.relative)
	}
}

func TestNew(t *testing.T) {
	for backend, want := range map[string]interface{}{
		"":     &DiskStorage{},
		"disk": &DiskStorage{},
		"FTP":  &FTPStorage{},
		"sftp": &SFTPStorage{},
		"s3":   &S3Storage{},
	} {
		s, err := New(backend)
		require.NoError(t, err, backend)
		assert.IsType(t, want, s, backend)
	}

	_, err := New("tape")
	assert.Error(t, err)
}

func TestRandomName(t *testing.T) {
	valid := regexp.MustCompile(`^[0-9a-zA-Z]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name, err := randomName()
		require.NoError(t, err)
		assert.Regexp(t, valid, name)
		seen[name] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestGenerateNameSkipsTakenNames(t *testing.T) {
	names := []string{"taken", "taken", "free"}
	b := newBase()
	b.newName = func() (string, error) {
		n := names[0]
		names = names[1:]
		return n, nil
	}

	got, err := b.generateName("create directory", "/upload", func(p string) bool {
		return p == "/upload/taken"
	})
	require.NoError(t, err)
	assert.Equal(t, "/upload/free", got)
}

func TestGenerateNameExhausted(t *testing.T) {
	calls := 0
	b := newBase()
	b.newName = func() (string, error) {
		calls++
		return "always", nil
	}

	_, err := b.generateName("save file", "/upload", func(string) bool { return true })
	require.Error(t, err)
	assert.ErrorIs(t, err, NameGenerationExhausted)
	assert.Equal(t, NameGenerationExhausted, b.LastErrorCode())
	assert.Equal(t, maxNameAttempts, calls)
}

func TestGenerateNameRandomSourceFailure(t *testing.T) {
	b := newBase()
	b.newName = func() (string, error) {
		return "", errors.New("entropy unavailable")
	}

	_, err := b.generateName("save file", "/upload", func(string) bool { return false })
	assert.ErrorIs(t, err, NameGenerationExhausted)
}

func TestSetLocalTmpDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	b := newBase()
	require.NoError(t, b.SetLocalTmpDir(dir))
	assert.Equal(t, dir, b.localTmpDir)
	assert.Equal(t, NoErrors, b.LastErrorCode())

	err := b.SetLocalTmpDir(file)
	assert.ErrorIs(t, err, DirectoryExpected)
	assert.Empty(t, b.localTmpDir)

	err = b.SetLocalTmpDir(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, DirectoryDoesNotExist)
	assert.Empty(t, b.localTmpDir)
}

func TestConfigureReportsMissingKeys(t *testing.T) {
	b := newBase()
	b.localTmpDir = "/previous"
	b.remoteUploadLocation = "/previous"

	_, err := b.configure(Options{OptLocalTmpDir: t.TempDir()}, OptRemoteUploadLocation)
	require.Error(t, err)
	assert.ErrorIs(t, err, WrongConfigurationLabel)
	assert.Contains(t, err.Error(), OptRemoteUploadLocation)
	assert.Empty(t, b.localTmpDir)
	assert.Empty(t, b.remoteUploadLocation)
}

func TestConfigureLocale(t *testing.T) {
	b := newBase()
	locale, err := b.configure(Options{OptLocalTmpDir: t.TempDir(), OptLocale: "es"})
	require.NoError(t, err)
	assert.Equal(t, "es", locale.String())
	assert.Equal(t, "en", b.locale.String())
	b.locale = locale

	b.lastErr = FileExpected
	msg, err := b.LastErrorMessage()
	require.NoError(t, err)
	assert.Equal(t, "ST - Excepción: Se esperaba fichero en lugar de directorio", msg)

	_, err = b.configure(Options{OptLocalTmpDir: t.TempDir(), OptLocale: "not a locale!"})
	assert.ErrorIs(t, err, WrongConfigurationLabel)
}

func TestFailedConfigureKeepsLocale(t *testing.T) {
	d := NewDiskStorage()
	err := d.Configure(Options{
		OptLocalTmpDir:          t.TempDir(),
		OptRemoteUploadLocation: filepath.Join(t.TempDir(), "missing"),
		OptLocale:               "es",
	})
	assert.ErrorIs(t, err, DirectoryDoesNotExist)
	assert.Equal(t, "en", d.locale.String())

	msg, err := d.LastErrorMessage()
	require.NoError(t, err)
	assert.Equal(t, "ST - Exception: Directory does not exist", msg)

	require.NoError(t, d.Configure(Options{
		OptLocalTmpDir:          t.TempDir(),
		OptRemoteUploadLocation: t.TempDir(),
		OptLocale:               "es",
	}))
	assert.Equal(t, "es", d.locale.String())
}
