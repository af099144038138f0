// Package objectstore provides blob storage over an S3-compatible
// endpoint, with optional envelope encryption of stored payloads.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/envelope"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrObjectNotFound indicates the requested key does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint required", ErrInvalidConfig)
	}
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket required", ErrInvalidConfig)
	}
	return nil
}

// Store reads and writes blobs keyed by file_key.
type Store struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// New creates an object store client.
func New(config Config, logger *zap.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	return &Store{client: client, bucket: config.Bucket, logger: logger}, nil
}

// EnsureBucket creates the configured bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", zap.String("bucket", s.bucket))
	return nil
}

// Put stores a blob under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("%w: key required", ErrInvalidConfig)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("storing object %s: %w", key, err)
	}
	return nil
}

// Get fetches a blob by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key required", ErrInvalidConfig)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("reading object %s: %w", key, err)
	}
	return data, nil
}

// Healthy reports whether the configured bucket is reachable.
func (s *Store) Healthy(ctx context.Context) bool {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err == nil
}

// BlobStore is the raw storage boundary used by EncryptedStore,
// satisfied by *Store.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// EncryptedStore wraps a BlobStore with envelope encryption. Each
// object is sealed under a fresh DEK; the blob stored at the key is
// the JSON envelope, never the plaintext.
type EncryptedStore struct {
	store     BlobStore
	encryptor *envelope.Encryptor
}

// NewEncrypted wraps a store with the given encryptor.
func NewEncrypted(store BlobStore, encryptor *envelope.Encryptor) *EncryptedStore {
	return &EncryptedStore{store: store, encryptor: encryptor}
}

// Put seals the payload and stores the envelope under key.
func (s *EncryptedStore) Put(ctx context.Context, key string, data []byte) error {
	blob, err := s.encryptor.Encrypt(data)
	if err != nil {
		return fmt.Errorf("encrypting object %s: %w", key, err)
	}
	packaged, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("packaging envelope for %s: %w", key, err)
	}
	return s.store.Put(ctx, key, packaged, "application/json")
}

// Get fetches the blob stored under key, opening the envelope when
// one is present. Objects written before envelope encryption are
// plaintext and pass through unchanged; a recognizable envelope that
// fails authentication is still a hard failure.
func (s *EncryptedStore) Get(ctx context.Context, key string) ([]byte, error) {
	packaged, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var blob envelope.Blob
	if err := json.Unmarshal(packaged, &blob); err != nil || blob.WrappedDEK == "" || len(blob.Ciphertext) == 0 {
		return packaged, nil
	}
	plaintext, err := s.encryptor.Decrypt(&blob)
	if err != nil {
		return nil, fmt.Errorf("decrypting object %s: %w", key, err)
	}
	return plaintext, nil
}
