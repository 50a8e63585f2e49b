package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"convertd/internal/config"
)

// MinIOStore keeps blobs in one bucket as objects named "container/key".
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to the configured endpoint and makes sure the bucket exists.
func NewMinIOStore(ctx context.Context, cfg config.MinIO) (*MinIOStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio blob store: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	store := &MinIOStore{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		// Another instance may have created it between the check and here.
		if exists, checkErr := s.client.BucketExists(ctx, s.bucket); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Backend implements Store.
func (s *MinIOStore) Backend() string {
	return "minio"
}

// Bucket returns the backing bucket name.
func (s *MinIOStore) Bucket() string {
	return s.bucket
}

func objectName(ref Ref) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	return path.Join(ref.Container, ref.Key), nil
}

// Put implements Store as a single conditional PUT (If-None-Match: *), so the
// server refuses the write atomically when the object already exists.
// Multipart is disabled because the precondition only guards a plain PUT;
// blobs are bounded by the tools' input and output limits, far below the
// single-request ceiling.
func (s *MinIOStore) Put(ctx context.Context, ref Ref, r io.Reader, size int64) error {
	name, err := objectName(ref)
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension("." + ref.Ext())
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := minio.PutObjectOptions{ContentType: contentType, DisableMultipart: true}
	opts.SetMatchETagExcept("*")
	if _, err := s.client.PutObject(ctx, s.bucket, name, r, size, opts); err != nil {
		if isMinIOPreconditionFailed(err) {
			return fmt.Errorf("put %s: %w", ref, ErrExists)
		}
		return fmt.Errorf("upload %s: %w", ref, err)
	}
	return nil
}

// Open implements Store.
func (s *MinIOStore) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	name, err := objectName(ref)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinIOError("open", ref, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translateMinIOError("open", ref, err)
	}
	return obj, nil
}

// Stat implements Store.
func (s *MinIOStore) Stat(ctx context.Context, ref Ref) (Info, error) {
	name, err := objectName(ref)
	if err != nil {
		return Info{}, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return Info{}, translateMinIOError("stat", ref, err)
	}
	return Info{Size: info.Size, ModTime: info.LastModified}, nil
}

// Delete implements Store.
func (s *MinIOStore) Delete(ctx context.Context, ref Ref) error {
	name, err := objectName(ref)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		if isMinIONotFound(err) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *MinIOStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

func isMinIOPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed"
}

func translateMinIOError(op string, ref Ref, err error) error {
	if isMinIONotFound(err) {
		return fmt.Errorf("%s %s: %w", op, ref, ErrNotFound)
	}
	return fmt.Errorf("%s blob %s: %w", op, ref, err)
}
