// Package crypt provides passphrase-based symmetric encryption of strings.
//
// A Codec turns a plaintext and a passphrase into a self-contained,
// base64-encoded ciphertext blob and back again. Every blob carries the
// format version, the cipher used, the key-derivation salt and the nonce,
// so nothing besides the passphrase is needed to decrypt it.
//
// Blob layout (before base64):
//
//	[version:1][algorithm:1][salt:16][nonce][ciphertext+tag]
//
// Keys are derived with Argon2id from the passphrase and a fresh random salt.
// Each encryption also uses a fresh random nonce, so encrypting the same
// plaintext twice produces different ciphertexts.
//
// Argon2id with DefaultKDF costs 64 MiB of memory and tens of milliseconds
// per derivation. A Codec keeps recently derived keys in a small LRU cache,
// so reading the same blob again, or reading a blob the codec just wrote,
// skips the derivation. Each Encrypt still derives a key for its new salt.
//
// Decryption failures of any kind (wrong passphrase, corrupted or truncated
// blob, unknown format) are reported as ErrDecrypt. Callers that only care
// about "readable or not" can treat ErrDecrypt as absence.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrNoKey is returned when encrypting without a passphrase.
	ErrNoKey = errors.New("crypt: encryption key is required")

	// ErrDecrypt is returned for every decryption failure. A wrong passphrase
	// and a corrupted blob are deliberately indistinguishable.
	ErrDecrypt = errors.New("crypt: decryption failed")
)

// Algorithm identifies the AEAD cipher recorded in a blob.
type Algorithm byte

const (
	AESGCM           Algorithm = 1
	ChaCha20Poly1305 Algorithm = 2
)

// String returns the configuration name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AESGCM:
		return "aes-gcm"
	case ChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("algorithm(%d)", byte(a))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "aes-gcm", "aes-256-gcm":
		return AESGCM, nil
	case "chacha20-poly1305", "chacha20":
		return ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("crypt: unknown algorithm %q", name)
	}
}

const (
	formatVersion = 1
	saltSize      = 16
	keySize       = 32
	headerSize    = 2 + saltSize
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDF follows the second recommended Argon2id profile of RFC 9106.
var DefaultKDF = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

// DefaultKeyCacheSize is the number of derived keys a Codec keeps.
const DefaultKeyCacheSize = 128

// Codec encrypts and decrypts strings. It is safe for concurrent use.
//
// Derived keys are cached in memory, indexed by a hash of the passphrase
// and the salt. Use WithKeyCache(0) to keep no key material at all.
type Codec struct {
	alg       Algorithm
	kdf       KDFParams
	cacheSize int
	keys      *lru.Cache // nil when caching is off
}

// Option configures a Codec.
type Option func(*Codec)

// WithAlgorithm sets the cipher used for new ciphertexts.
// Decryption always uses the cipher recorded in the blob.
// Default: AESGCM
func WithAlgorithm(alg Algorithm) Option {
	return func(c *Codec) {
		c.alg = alg
	}
}

// WithKDF sets the Argon2id parameters. The parameters are not stored in the
// blob, so a reader must use the same parameters as the writer.
// Default: DefaultKDF
func WithKDF(p KDFParams) Option {
	return func(c *Codec) {
		c.kdf = p
	}
}

// WithKeyCache sets how many derived keys the codec caches. Zero disables
// the cache, so every call runs Argon2id.
// Default: DefaultKeyCacheSize
func WithKeyCache(size int) Option {
	return func(c *Codec) {
		c.cacheSize = size
	}
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		alg:       AESGCM,
		kdf:       DefaultKDF,
		cacheSize: DefaultKeyCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheSize > 0 {
		// lru.New only fails for a non-positive size.
		c.keys, _ = lru.New(c.cacheSize)
	}
	return c
}

var defaultCodec = New()

// Encrypt encrypts plaintext with the default codec.
func Encrypt(plaintext, key string) (string, error) {
	return defaultCodec.Encrypt(plaintext, key)
}

// Decrypt decrypts ciphertext with the default codec.
func Decrypt(ciphertext, key string) (string, error) {
	return defaultCodec.Decrypt(ciphertext, key)
}

// Algorithm returns the cipher used for new ciphertexts.
func (c *Codec) Algorithm() Algorithm {
	return c.alg
}

// Encrypt seals plaintext under a key derived from the passphrase.
// It fails with ErrNoKey if key is empty.
func (c *Codec) Encrypt(plaintext, key string) (string, error) {
	if key == "" {
		return "", ErrNoKey
	}

	blob := make([]byte, headerSize, headerSize+64+len(plaintext))
	blob[0] = formatVersion
	blob[1] = byte(c.alg)
	salt := blob[2:headerSize]
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypt: generate salt: %w", err)
	}

	aead, err := c.aead(c.alg, key, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypt: generate nonce: %w", err)
	}

	// The header is authenticated so the algorithm byte and salt cannot be
	// swapped without failing the tag check.
	header := blob[:headerSize]
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, []byte(plaintext), header)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure returns ErrDecrypt.
func (c *Codec) Decrypt(ciphertext, key string) (string, error) {
	if key == "" {
		return "", ErrDecrypt
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(blob) < headerSize || blob[0] != formatVersion {
		return "", ErrDecrypt
	}

	alg := Algorithm(blob[1])
	header := blob[:headerSize]
	salt := blob[2:headerSize]

	aead, err := c.aead(alg, key, salt)
	if err != nil {
		return "", ErrDecrypt
	}

	rest := blob[headerSize:]
	nonceSize := aead.NonceSize()
	if len(rest) < nonceSize+aead.Overhead() {
		return "", ErrDecrypt
	}

	nonce, sealed := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, header)
	if err != nil {
		return "", ErrDecrypt
	}

	return string(plaintext), nil
}

// derive returns the Argon2id key for passphrase and salt.
func (c *Codec) derive(passphrase string, salt []byte) []byte {
	if c.keys == nil {
		return argon2.IDKey([]byte(passphrase), salt, c.kdf.Time, c.kdf.Memory, c.kdf.Threads, keySize)
	}

	sum := sha256.Sum256([]byte(passphrase))
	id := string(sum[:]) + string(salt)
	if v, ok := c.keys.Get(id); ok {
		return v.([]byte)
	}

	derived := argon2.IDKey([]byte(passphrase), salt, c.kdf.Time, c.kdf.Memory, c.kdf.Threads, keySize)
	c.keys.Add(id, derived)
	return derived
}

func (c *Codec) aead(alg Algorithm, key string, salt []byte) (cipher.AEAD, error) {
	derived := c.derive(key, salt)

	switch alg {
	case AESGCM:
		block, err := aes.NewCipher(derived)
		if err != nil {
			return nil, fmt.Errorf("crypt: create AES cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("crypt: create GCM: %w", err)
		}
		return gcm, nil
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(derived)
		if err != nil {
			return nil, fmt.Errorf("crypt: create ChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("crypt: unsupported %s", alg)
	}
}
