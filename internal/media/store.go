// Package media is the binary object store for issue photos and resolution
// proofs. It hands out opaque reference strings; nothing else in the system
// ever inspects file contents.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"civicdesk/api/internal/util"
)

const refPrefix = "med"

var allowedKinds = map[string]struct{}{
	"photo": {},
	"proof": {},
}

// Store wraps a MinIO bucket. A nil *Store means media uploads are not
// configured; callers must check Enabled before use.
type Store struct {
	client *minio.Client
	bucket string
}

func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) Enabled() bool {
	return s != nil
}

// ValidKind reports whether the declared media kind is accepted.
func ValidKind(kind string) bool {
	_, ok := allowedKinds[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}

// ValidRef reports whether a string looks like a reference this store issued.
// The engine only passes references through, so this is a shape check, not a
// liveness check.
func ValidRef(ref string) bool {
	return strings.HasPrefix(ref, refPrefix+"_") && len(ref) > len(refPrefix)+1
}

// Put stores the object and returns its opaque reference.
func (s *Store) Put(ctx context.Context, kind string, reader io.Reader, size int64, contentType string) (string, error) {
	if !ValidKind(kind) {
		return "", fmt.Errorf("invalid media kind %q", kind)
	}
	ref := util.NewID(refPrefix)
	objectName := strings.ToLower(strings.TrimSpace(kind)) + "/" + ref
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return ref, nil
}

// Get opens the stored object for a previously issued reference.
func (s *Store) Get(ctx context.Context, kind, ref string) (io.ReadCloser, error) {
	if !ValidKind(kind) || !ValidRef(ref) {
		return nil, fmt.Errorf("invalid media reference")
	}
	objectName := strings.ToLower(strings.TrimSpace(kind)) + "/" + ref
	object, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return object, nil
}
