package objectstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/envelope"
)

const testKEK = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestConfigValidate(t *testing.T) {
	err := Config{Bucket: "b"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = Config{Endpoint: "localhost:9000"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.NoError(t, Config{Endpoint: "localhost:9000", Bucket: "b"}.Validate())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// memStore is an in-memory BlobStore for exercising the envelope path.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	enc, err := envelope.New(testKEK)
	require.NoError(t, err)

	mem := newMemStore()
	store := NewEncrypted(mem, enc)
	ctx := context.Background()

	payload := []byte("confidential document body")
	require.NoError(t, store.Put(ctx, "org-1/doc.txt", payload))

	got, err := store.Get(ctx, "org-1/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEncryptedStoreNeverStoresPlaintext(t *testing.T) {
	enc, err := envelope.New(testKEK)
	require.NoError(t, err)

	mem := newMemStore()
	store := NewEncrypted(mem, enc)

	payload := "confidential document body"
	require.NoError(t, store.Put(context.Background(), "k", []byte(payload)))
	assert.NotContains(t, string(mem.objects["k"]), payload)
}

func TestEncryptedStoreDetectsTamper(t *testing.T) {
	enc, err := envelope.New(testKEK)
	require.NoError(t, err)

	mem := newMemStore()
	store := NewEncrypted(mem, enc)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("payload")))

	// Flip a ciphertext byte inside the stored envelope, keeping the
	// envelope itself well formed.
	var blob envelope.Blob
	require.NoError(t, json.Unmarshal(mem.objects["k"], &blob))
	blob.Ciphertext[0] ^= 0x01
	tampered, err := json.Marshal(&blob)
	require.NoError(t, err)
	mem.objects["k"] = tampered

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, envelope.ErrIntegrity)
}

func TestEncryptedStoreLegacyPlaintextPassthrough(t *testing.T) {
	enc, err := envelope.New(testKEK)
	require.NoError(t, err)

	mem := newMemStore()
	mem.objects["k"] = []byte("plain object written before encryption")
	store := NewEncrypted(mem, enc)

	got, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("plain object written before encryption"), got)
}

func TestEncryptedStoreMissingKey(t *testing.T) {
	enc, err := envelope.New(testKEK)
	require.NoError(t, err)

	store := NewEncrypted(newMemStore(), enc)
	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
