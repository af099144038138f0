// Package envelope implements DEK/KEK envelope encryption for stored
// payloads.
//
// Each payload is AEAD-encrypted (AES-256-GCM) with a fresh random
// 256-bit data-encryption key (DEK). The DEK is itself AEAD-encrypted
// with the long-lived key-encryption key (KEK) and packaged as
// nonce‖tag‖ciphertext, base64-encoded. The KEK never leaves this
// package; a DEK exists only transiently in memory and is never
// persisted unwrapped. Nonces are freshly random on every call.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrIntegrity indicates an authentication-tag mismatch: the
	// ciphertext, wrapped DEK, IV, or tag was tampered with or
	// corrupted. No partial plaintext is ever returned.
	ErrIntegrity = errors.New("tamper or corruption detected")

	// ErrInvalidKey indicates a malformed key-encryption key.
	ErrInvalidKey = errors.New("invalid key-encryption key")

	// ErrMalformedBlob indicates an undecodable encrypted blob.
	ErrMalformedBlob = errors.New("malformed encrypted blob")
)

const (
	dekSize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Blob is one encrypted object as persisted to the object store.
type Blob struct {
	// Ciphertext is the AEAD ciphertext of the payload (tag detached).
	Ciphertext []byte `json:"ciphertext"`
	// WrappedDEK is base64(nonce ‖ tag ‖ ciphertext) of the DEK
	// encrypted under the KEK.
	WrappedDEK string `json:"wrapped_dek"`
	// IV is the base64 payload nonce.
	IV string `json:"iv"`
	// AuthTag is the base64 payload authentication tag.
	AuthTag string `json:"auth_tag"`
}

// Encryptor performs envelope encryption under a fixed KEK.
type Encryptor struct {
	kek []byte
}

// New creates an Encryptor from a hex-encoded 256-bit KEK.
func New(kekHex string) (*Encryptor, error) {
	kek, err := hex.DecodeString(kekHex)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrInvalidKey)
	}
	if len(kek) != dekSize {
		return nil, fmt.Errorf("%w: need 32 bytes, got %d", ErrInvalidKey, len(kek))
	}
	return &Encryptor{kek: kek}, nil
}

// Encrypt envelope-encrypts payload with a fresh DEK.
func (e *Encryptor) Encrypt(payload []byte) (*Blob, error) {
	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("generating DEK: %w", err)
	}

	ciphertext, iv, tag, err := seal(dek, payload)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	dekCiphertext, dekNonce, dekTag, err := seal(e.kek, dek)
	if err != nil {
		return nil, fmt.Errorf("wrapping DEK: %w", err)
	}

	// Package the wrapped DEK as nonce ‖ tag ‖ ciphertext.
	wrapped := make([]byte, 0, nonceSize+tagSize+len(dekCiphertext))
	wrapped = append(wrapped, dekNonce...)
	wrapped = append(wrapped, dekTag...)
	wrapped = append(wrapped, dekCiphertext...)

	return &Blob{
		Ciphertext: ciphertext,
		WrappedDEK: base64.StdEncoding.EncodeToString(wrapped),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt unwraps the DEK and decrypts the payload. Any tag mismatch
// returns ErrIntegrity.
func (e *Encryptor) Decrypt(blob *Blob) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(blob.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped DEK is not valid base64", ErrMalformedBlob)
	}
	if len(wrapped) <= nonceSize+tagSize {
		return nil, fmt.Errorf("%w: wrapped DEK too short", ErrMalformedBlob)
	}
	dekNonce := wrapped[:nonceSize]
	dekTag := wrapped[nonceSize : nonceSize+tagSize]
	dekCiphertext := wrapped[nonceSize+tagSize:]

	dek, err := open(e.kek, dekNonce, dekCiphertext, dekTag)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrapping DEK failed", ErrIntegrity)
	}

	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: IV is not valid base64", ErrMalformedBlob)
	}
	tag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: auth tag is not valid base64", ErrMalformedBlob)
	}

	payload, err := open(dek, iv, blob.Ciphertext, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: payload authentication failed", ErrIntegrity)
	}
	return payload, nil
}

// seal AEAD-encrypts plaintext with a fresh random nonce and returns
// ciphertext, nonce, and the detached tag.
func seal(key, plaintext []byte) (ciphertext, nonce, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - tagSize
	return sealed[:split], nonce, sealed[split:], nil
}

// open re-attaches the detached tag and AEAD-decrypts.
func open(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != nonceSize || len(tag) != tagSize {
		return nil, errors.New("bad nonce or tag length")
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	return gcm.Open(nil, nonce, sealed, nil)
}
