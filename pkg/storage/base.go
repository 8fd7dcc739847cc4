package storage

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"golang.org/x/text/language"
)

const (
	// nameLength is the number of characters of a generated name
	nameLength = 12
	// maxNameAttempts bounds the search for a free generated name
	maxNameAttempts = 64

	nameAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// randomName returns nameLength random alphanumeric characters
func randomName() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(nameAlphabet)))
	for i := 0; i < nameLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		sb.WriteByte(nameAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// base holds the state and helpers shared by every backend
type base struct {
	lastErr              Code
	localTmpDir          string
	remoteUploadLocation string
	locale               language.Tag
	newName              func() (string, error)
}

func newBase() base {
	return base{
		locale:  language.English,
		newName: randomName,
	}
}

func (b *base) succeed() {
	b.lastErr = NoErrors
}

// fail records code as the last error and returns it wrapped in an *Error
func (b *base) fail(op, path string, code Code, err error) error {
	b.lastErr = code
	debugLog("%s %s failed with code %d: %v", op, path, code, err)
	return &Error{Op: op, Path: path, Code: code, Err: err}
}

// LastErrorCode returns the code recorded by the last operation
func (b *base) LastErrorCode() Code {
	return b.lastErr
}

// LastErrorMessage returns the label of the last code in the configured locale
func (b *base) LastErrorMessage() (string, error) {
	return Message(b.lastErr, b.locale)
}

// configure resets the location fields, checks that local_tmp_dir and every
// key in required are present and then applies local_tmp_dir. The parsed
// locale is returned for the caller to store once its own setters succeed.
func (b *base) configure(opts Options, required ...string) (language.Tag, error) {
	b.localTmpDir = ""
	b.remoteUploadLocation = ""

	var missing []string
	for _, key := range append([]string{OptLocalTmpDir}, required...) {
		if _, ok := opts[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return b.locale, b.fail("configure", "", WrongConfigurationLabel, fmt.Errorf("missing options: %s", strings.Join(missing, ", ")))
	}

	locale := b.locale
	if loc, ok := opts[OptLocale]; ok && loc != "" {
		tag, err := language.Parse(loc)
		if err != nil {
			return b.locale, b.fail("configure", "", WrongConfigurationLabel, fmt.Errorf("invalid locale %q: %w", loc, err))
		}
		locale = tag
	}

	if err := b.SetLocalTmpDir(opts[OptLocalTmpDir]); err != nil {
		return b.locale, err
	}

	b.succeed()
	return locale, nil
}

// rejectOption unsets the location fields and reports a configuration error
func (b *base) rejectOption(err error) error {
	b.localTmpDir = ""
	b.remoteUploadLocation = ""
	return b.fail("configure", "", WrongConfigurationLabel, err)
}

// SetLocalTmpDir sets the local directory where downloads are stored
func (b *base) SetLocalTmpDir(path string) error {
	b.localTmpDir = ""

	if err := b.checkDirectory("set local tmp dir", path); err != nil {
		return err
	}

	b.localTmpDir = path
	b.succeed()
	return nil
}

func (b *base) isConfigured() bool {
	return b.localTmpDir != "" && b.remoteUploadLocation != ""
}

// checkDirectory verifies that the local path exists and is a directory
func (b *base) checkDirectory(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return b.fail(op, path, DirectoryDoesNotExist, err)
	}
	if !info.IsDir() {
		return b.fail(op, path, DirectoryExpected, nil)
	}
	return nil
}

// checkFile verifies that the local path exists and is a regular file
func (b *base) checkFile(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return b.fail(op, path, FileDoesNotExist, err)
	}
	if !info.Mode().IsRegular() {
		return b.fail(op, path, FileExpected, nil)
	}
	return nil
}

// generateName returns root joined with a random name for which exists
// reports false
func (b *base) generateName(op, root string, exists func(string) bool) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name, err := b.newName()
		if err != nil {
			return "", b.fail(op, root, NameGenerationExhausted, err)
		}
		candidate := RebuildPath(root, name)
		if !exists(candidate) {
			return candidate, nil
		}
		debugLog("Generated name %s already exists, retrying", candidate)
	}
	return "", b.fail(op, root, NameGenerationExhausted, fmt.Errorf("no free name after %d attempts", maxNameAttempts))
}

// localExists reports whether anything is present at the local path
func localExists(path string) bool {
	_, err := os.Lstat(path)
	return !os.IsNotExist(err)
}

// writeLocalFile creates dst and copies r into it
func writeLocalFile(dst string, r io.Reader) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to copy file contents: %w", err)
	}
	return n, nil
}
