package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of *s3.Client used by S3Storage
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds the configuration for S3-compatible storage
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// newS3Client builds a client for AWS or, when an endpoint is set, for an
// S3-compatible service such as B2 or MinIO
func newS3Client(cfg *S3Config) (s3API, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Storage implements storage in a bucket. Directories are key prefixes
// marked by an empty "<dir>/" object.
type S3Storage struct {
	base

	config    *S3Config
	client    s3API
	connected bool

	newClient func(cfg *S3Config) (s3API, error)
}

// NewS3Storage creates an unconfigured S3 storage
func NewS3Storage() *S3Storage {
	return &S3Storage{
		base:      newBase(),
		newClient: newS3Client,
	}
}

// Configure requires s3_bucket, s3_region, the access key pair,
// remote_upload_location and local_tmp_dir. s3_endpoint is optional.
func (s *S3Storage) Configure(opts Options) error {
	const op = "configure"
	s.config = nil
	s.client = nil
	s.connected = false
	locale, err := s.configure(opts, OptS3Bucket, OptS3Region, OptS3AccessKeyID, OptS3SecretAccessKey, OptRemoteUploadLocation)
	if err != nil {
		return err
	}

	cfg := &S3Config{
		Endpoint:        opts[OptS3Endpoint],
		Region:          opts[OptS3Region],
		Bucket:          opts[OptS3Bucket],
		AccessKeyID:     opts[OptS3AccessKeyID],
		SecretAccessKey: opts[OptS3SecretAccessKey],
	}
	if cfg.Bucket == "" {
		return s.rejectOption(fmt.Errorf("%s must not be empty", OptS3Bucket))
	}

	client, err := s.newClient(cfg)
	if err != nil {
		return s.fail(op, cfg.Bucket, S3ErrorOpenConn, err)
	}
	s.config = cfg
	s.client = client

	if err := s.SetRemoteUploadLocation(opts[OptRemoteUploadLocation]); err != nil {
		return err
	}

	s.locale = locale
	s.succeed()
	return nil
}

// SetRemoteUploadLocation verifies that remote is a directory in the bucket.
// "/" is the bucket root.
func (s *S3Storage) SetRemoteUploadLocation(remote string) error {
	const op = "set remote upload location"
	s.remoteUploadLocation = ""

	if s.client == nil {
		return s.fail(op, remote, NotConfigured, nil)
	}
	if err := s.checkRemoteDirectory(op, remote); err != nil {
		return err
	}

	s.remoteUploadLocation = remote
	s.succeed()
	return nil
}

func (s *S3Storage) isConfigured() bool {
	return s.base.isConfigured() && s.client != nil
}

// IsConnected reports whether the last Init reached the bucket
func (s *S3Storage) IsConnected() bool {
	return s.connected
}

// Init checks that the bucket is reachable with the configured credentials
func (s *S3Storage) Init() error {
	s.connected = false
	if s.client == nil {
		return s.fail("init", "", S3ErrorOpenConn, errors.New("no bucket configured"))
	}

	debugLog("Checking S3 bucket %s", s.config.Bucket)
	_, err := s.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		return s.fail("init", s.config.Bucket, S3ErrorOpenConn, err)
	}

	s.connected = true
	s.succeed()
	return nil
}

// Close is a no-op; the client holds no session
func (s *S3Storage) Close() error {
	s.connected = false
	return nil
}

func (s *S3Storage) requireReady(op string) error {
	if !s.isConfigured() {
		return s.fail(op, "", NotConfigured, nil)
	}
	if !s.IsConnected() {
		return s.fail(op, "", NotConnected, nil)
	}
	return nil
}

// objectKey maps a storage path to a bucket key; the root maps to ""
func objectKey(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// dirPrefix returns the listing prefix of the directory p
func dirPrefix(p string) string {
	key := objectKey(p)
	if key == "" {
		return ""
	}
	return key + "/"
}

// copySource escapes bucket/key for the CopySource header
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func (s *S3Storage) fileExists(p string) bool {
	key := objectKey(p)
	if key == "" {
		return false
	}
	_, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		debugLog("Head of %s failed: %v", key, err)
		return false
	}
	return true
}

func (s *S3Storage) dirExists(p string) bool {
	prefix := dirPrefix(p)
	if prefix == "" {
		return true
	}
	out, err := s.client.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.config.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		debugLog("Listing %s failed: %v", prefix, err)
		return false
	}
	return len(out.Contents) > 0
}

func (s *S3Storage) remoteExists(p string) bool {
	return s.fileExists(p) || s.dirExists(p)
}

func (s *S3Storage) checkRemoteDirectory(op, p string) error {
	if s.dirExists(p) {
		return nil
	}
	if s.fileExists(p) {
		return s.fail(op, p, DirectoryExpected, nil)
	}
	return s.fail(op, p, DirectoryDoesNotExist, nil)
}

func (s *S3Storage) checkRemoteFile(op, p string) error {
	if s.fileExists(p) {
		return nil
	}
	if s.dirExists(p) {
		return s.fail(op, p, FileExpected, nil)
	}
	return s.fail(op, p, FileDoesNotExist, nil)
}

// listKeys returns every key below the directory p, marker included
func (s *S3Storage) listKeys(p string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(dirPrefix(p)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3Storage) copyKey(from, to string) error {
	_, err := s.client.CopyObject(context.Background(), &s3.CopyObjectInput{
		Bucket:     aws.String(s.config.Bucket),
		CopySource: aws.String(copySource(s.config.Bucket, from)),
		Key:        aws.String(to),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
	}
	return nil
}

func (s *S3Storage) deleteKey(key string) error {
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeleteFile deletes the object url
func (s *S3Storage) DeleteFile(url string) error {
	const op = "delete file"
	if err := s.requireReady(op); err != nil {
		return err
	}

	filePath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteFile(op, filePath); err != nil {
		return err
	}

	if err := s.deleteKey(objectKey(filePath)); err != nil {
		return s.fail(op, filePath, S3ErrorDelete, err)
	}

	s.succeed()
	return nil
}

// GetFile downloads the object url into the local temp directory
func (s *S3Storage) GetFile(url string) (string, error) {
	const op = "get file"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	filePath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteFile(op, filePath); err != nil {
		return "", err
	}

	tmpFile, err := s.generateName(op, s.localTmpDir, localExists)
	if err != nil {
		return "", err
	}

	result, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(objectKey(filePath)),
	})
	if err != nil {
		return "", s.fail(op, filePath, S3ErrorGet, err)
	}
	defer result.Body.Close()

	if _, err := writeLocalFile(tmpFile, result.Body); err != nil {
		return "", s.fail(op, filePath, S3ErrorGet, err)
	}

	s.succeed()
	return tmpFile, nil
}

// SaveFile uploads the local file source into the directory url
func (s *S3Storage) SaveFile(source, url string) (string, error) {
	const op = "save file"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	if err := s.checkFile(op, source); err != nil {
		return "", err
	}

	dirPath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteDirectory(op, dirPath); err != nil {
		return "", err
	}

	newFilePath, err := s.generateName(op, dirPath, s.remoteExists)
	if err != nil {
		return "", err
	}
	saved := RebuildPath(url, path.Base(newFilePath))

	file, err := os.Open(source)
	if err != nil {
		return "", s.fail(op, source, S3ErrorPut, err)
	}
	defer file.Close()

	_, err = s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(objectKey(newFilePath)),
		Body:   file,
	})
	if err != nil {
		return "", s.fail(op, newFilePath, S3ErrorPut, err)
	}

	debugLog("Uploaded %s to %s", source, newFilePath)
	s.succeed()
	return saved, nil
}

// MoveFile moves the object source into the directory target
func (s *S3Storage) MoveFile(source, target string) (string, error) {
	const op = "move file"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(s.remoteUploadLocation, source)
	targetPath := RebuildPath(s.remoteUploadLocation, target)
	if err := s.checkRemoteFile(op, sourcePath); err != nil {
		return "", err
	}
	if err := s.checkRemoteDirectory(op, targetPath); err != nil {
		return "", err
	}

	moved := RebuildPath(target, path.Base(sourcePath))
	from := objectKey(sourcePath)
	to := objectKey(RebuildPath(s.remoteUploadLocation, moved))
	if from == to {
		s.succeed()
		return moved, nil
	}
	if err := s.copyKey(from, to); err != nil {
		return "", s.fail(op, sourcePath, S3ErrorRename, err)
	}
	if err := s.deleteKey(from); err != nil {
		return "", s.fail(op, sourcePath, S3ErrorRename, err)
	}

	s.succeed()
	return moved, nil
}

// CreateDirectory creates a directory marker with a generated name inside url
func (s *S3Storage) CreateDirectory(url string) (string, error) {
	const op = "create directory"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	dirPath := RebuildPath(s.remoteUploadLocation, url)
	if err := s.checkRemoteDirectory(op, dirPath); err != nil {
		return "", err
	}

	newDirPath, err := s.generateName(op, dirPath, s.remoteExists)
	if err != nil {
		return "", err
	}
	created := RebuildPath(url, path.Base(newDirPath))

	_, err = s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(dirPrefix(newDirPath)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", s.fail(op, newDirPath, S3ErrorMkdir, err)
	}

	s.succeed()
	return created, nil
}

// MoveDirectory copies every key below source under target and then
// deletes the originals. A failure part way through leaves both copies.
// Moving a directory into its own subtree fails before anything is copied.
func (s *S3Storage) MoveDirectory(source, target string) (string, error) {
	const op = "move directory"
	if err := s.requireReady(op); err != nil {
		return "", err
	}

	sourcePath := RebuildPath(s.remoteUploadLocation, source)
	targetPath := RebuildPath(s.remoteUploadLocation, target)
	if err := s.checkRemoteDirectory(op, sourcePath); err != nil {
		return "", err
	}
	if err := s.checkRemoteDirectory(op, targetPath); err != nil {
		return "", err
	}

	moved := RebuildPath(target, path.Base(sourcePath))
	fromPrefix := dirPrefix(sourcePath)
	toPrefix := dirPrefix(RebuildPath(s.remoteUploadLocation, moved))
	if fromPrefix == toPrefix {
		s.succeed()
		return moved, nil
	}
	if strings.HasPrefix(toPrefix, fromPrefix) {
		return "", s.fail(op, sourcePath, S3ErrorRename, fmt.Errorf("cannot move %s into itself", sourcePath))
	}

	keys, err := s.listKeys(sourcePath)
	if err != nil {
		return "", s.fail(op, sourcePath, S3ErrorRename, err)
	}
	for _, key := range keys {
		if err := s.copyKey(key, toPrefix+strings.TrimPrefix(key, fromPrefix)); err != nil {
			return "", s.fail(op, sourcePath, S3ErrorRename, err)
		}
	}
	for _, key := range keys {
		if err := s.deleteKey(key); err != nil {
			return "", s.fail(op, sourcePath, S3ErrorRename, err)
		}
	}

	s.succeed()
	return moved, nil
}

// DeleteDirectory deletes every key below url, stopping at the first failure
func (s *S3Storage) DeleteDirectory(url string) error {
	const op = "delete directory"
	if err := s.requireReady(op); err != nil {
		return err
	}

	dirPath := RebuildPath(s.remoteUploadLocation, url)
	if dirPrefix(dirPath) == "" {
		return s.fail(op, dirPath, S3ErrorRmdir, errors.New("refusing to delete the bucket root"))
	}
	if err := s.checkRemoteDirectory(op, dirPath); err != nil {
		return err
	}

	keys, err := s.listKeys(dirPath)
	if err != nil {
		return s.fail(op, dirPath, S3ErrorRmdir, err)
	}
	for _, key := range keys {
		if err := s.deleteKey(key); err != nil {
			return s.fail(op, dirPath, S3ErrorRmdir, err)
		}
	}

	debugLog("Deleted %d objects below %s", len(keys), dirPath)
	s.succeed()
	return nil
}
