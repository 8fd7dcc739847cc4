package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Filesystem calls that tests replace to simulate failures
var (
	removePath = os.Remove
	readDir    = os.ReadDir
	renamePath = os.Rename
)

// DiskStorage implements storage on the local filesystem, rooted at the
// remote upload location
type DiskStorage struct {
	base
}

// NewDiskStorage creates an unconfigured disk storage
func NewDiskStorage() *DiskStorage {
	return &DiskStorage{base: newBase()}
}

// Configure requires local_tmp_dir and remote_upload_location
func (d *DiskStorage) Configure(opts Options) error {
	locale, err := d.configure(opts, OptRemoteUploadLocation)
	if err != nil {
		return err
	}

	if err := d.SetRemoteUploadLocation(opts[OptRemoteUploadLocation]); err != nil {
		return err
	}

	d.locale = locale
	d.succeed()
	return nil
}

// SetRemoteUploadLocation sets the directory every relative url resolves against
func (d *DiskStorage) SetRemoteUploadLocation(path string) error {
	d.remoteUploadLocation = ""

	if err := d.checkDirectory("set remote upload location", path); err != nil {
		return err
	}

	d.remoteUploadLocation = path
	d.succeed()
	return nil
}

// Init always succeeds; the local filesystem needs no connection
func (d *DiskStorage) Init() error {
	d.succeed()
	return nil
}

// Close is a no-op for disk storage
func (d *DiskStorage) Close() error {
	return nil
}

func (d *DiskStorage) requireConfigured(op string) error {
	if !d.isConfigured() {
		return d.fail(op, "", NotConfigured, nil)
	}
	return nil
}

// DeleteFile deletes the file url
func (d *DiskStorage) DeleteFile(url string) error {
	const op = "delete file"
	if err := d.requireConfigured(op); err != nil {
		return err
	}

	filePath := RebuildPath(d.remoteUploadLocation, url)
	if err := d.checkFile(op, filePath); err != nil {
		return err
	}

	if err := removePath(filePath); err != nil {
		return d.fail(op, filePath, DiskErrorDelete, err)
	}

	debugLog("Deleted file %s", filePath)
	d.succeed()
	return nil
}

// GetFile copies the file url into the local temp directory
func (d *DiskStorage) GetFile(url string) (string, error) {
	const op = "get file"
	if err := d.requireConfigured(op); err != nil {
		return "", err
	}

	filePath := RebuildPath(d.remoteUploadLocation, url)
	if err := d.checkFile(op, filePath); err != nil {
		return "", err
	}

	tmpFile, err := d.generateName(op, d.localTmpDir, localExists)
	if err != nil {
		return "", err
	}

	if err := copyFile(filePath, tmpFile); err != nil {
		return "", d.fail(op, filePath, DiskErrorSave, err)
	}

	debugLog("Copied %s to %s", filePath, tmpFile)
	d.succeed()
	return tmpFile, nil
}

// SaveFile copies the local file source into the directory url
func (d *DiskStorage) SaveFile(source, url string) (string, error) {
	const op = "save file"
	if err := d.requireConfigured(op); err != nil {
		return "", err
	}

	if err := d.checkFile(op, source); err != nil {
		return "", err
	}

	dirPath := RebuildPath(d.remoteUploadLocation, url)
	if err := d.checkDirectory(op, dirPath); err != nil {
		return "", err
	}

	newFilePath, err := d.generateName(op, dirPath, localExists)
	if err != nil {
		return "", err
	}
	saved := RebuildPath(url, filepath.Base(newFilePath))

	if err := copyFile(source, newFilePath); err != nil {
		return "", d.fail(op, newFilePath, DiskErrorSave, err)
	}

	debugLog("Saved %s as %s", source, newFilePath)
	d.succeed()
	return saved, nil
}

// MoveFile moves the file source into the directory target
func (d *DiskStorage) MoveFile(source, target string) (string, error) {
	const op = "move file"
	if err := d.requireConfigured(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(d.remoteUploadLocation, source)
	targetPath := RebuildPath(d.remoteUploadLocation, target)
	if err := d.checkFile(op, sourcePath); err != nil {
		return "", err
	}
	if err := d.checkDirectory(op, targetPath); err != nil {
		return "", err
	}

	name := filepath.Base(source)
	moved := RebuildPath(target, name)
	targetPath = RebuildPath(targetPath, name)

	if err := renamePath(sourcePath, targetPath); err != nil {
		return "", d.fail(op, sourcePath, DiskErrorRename, err)
	}

	d.succeed()
	return moved, nil
}

// CreateDirectory creates a directory with a generated name inside url
func (d *DiskStorage) CreateDirectory(url string) (string, error) {
	const op = "create directory"
	if err := d.requireConfigured(op); err != nil {
		return "", err
	}

	dirPath := RebuildPath(d.remoteUploadLocation, url)
	if err := d.checkDirectory(op, dirPath); err != nil {
		return "", err
	}

	newDirPath, err := d.generateName(op, dirPath, localExists)
	if err != nil {
		return "", err
	}
	created := RebuildPath(url, filepath.Base(newDirPath))

	if err := os.Mkdir(newDirPath, 0755); err != nil {
		return "", d.fail(op, newDirPath, DiskErrorMkdir, err)
	}

	d.succeed()
	return created, nil
}

// MoveDirectory moves the directory source into the directory target
func (d *DiskStorage) MoveDirectory(source, target string) (string, error) {
	const op = "move directory"
	if err := d.requireConfigured(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(d.remoteUploadLocation, source)
	targetPath := RebuildPath(d.remoteUploadLocation, target)
	if err := d.checkDirectory(op, sourcePath); err != nil {
		return "", err
	}
	if err := d.checkDirectory(op, targetPath); err != nil {
		return "", err
	}

	name := filepath.Base(sourcePath)
	moved := RebuildPath(target, name)
	targetPath = RebuildPath(targetPath, name)

	if err := renamePath(sourcePath, targetPath); err != nil {
		return "", d.fail(op, sourcePath, DiskErrorRename, err)
	}

	d.succeed()
	return moved, nil
}

// DeleteDirectory removes the directory url and its contents depth-first.
// A failure part way through leaves whatever was not yet removed in place.
func (d *DiskStorage) DeleteDirectory(url string) error {
	const op = "delete directory"
	if err := d.requireConfigured(op); err != nil {
		return err
	}

	dirPath := RebuildPath(d.remoteUploadLocation, url)
	if err := d.checkDirectory(op, dirPath); err != nil {
		return err
	}

	if err := removeTree(dirPath); err != nil {
		return d.fail(op, dirPath, DiskErrorRmdir, err)
	}

	debugLog("Deleted directory %s", dirPath)
	d.succeed()
	return nil
}

// removeTree deletes dir recursively, stopping at the first failure
func removeTree(dir string) error {
	entries, err := readDir(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := removeTree(full); err != nil {
				return err
			}
			continue
		}
		if err := removePath(full); err != nil {
			return fmt.Errorf("failed to delete file %s: %w", full, err)
		}
	}

	if err := removePath(dir); err != nil {
		return fmt.Errorf("failed to delete directory %s: %w", dir, err)
	}
	return nil
}

// copyFile copies the contents of src into a newly created dst
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	_, err = writeLocalFile(dst, in)
	return err
}
