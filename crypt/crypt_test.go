package crypt_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erlorenz/memvault/crypt"
)

// fastKDF keeps key derivation cheap in tests.
var fastKDF = crypt.KDFParams{Time: 1, Memory: 1024, Threads: 1}

func TestCodec(t *testing.T) {
	algorithms := []crypt.Algorithm{crypt.AESGCM, crypt.ChaCha20Poly1305}

	for _, alg := range algorithms {
		t.Run(alg.String(), func(t *testing.T) {
			codec := crypt.New(crypt.WithAlgorithm(alg), crypt.WithKDF(fastKDF))

			t.Run("EncryptDecrypt", func(t *testing.T) {
				plaintext := `{"token":"abc123"}`

				ciphertext, err := codec.Encrypt(plaintext, "pw1")
				if err != nil {
					t.Fatalf("Encrypt failed: %v", err)
				}
				if strings.Contains(ciphertext, "abc123") {
					t.Error("ciphertext leaks plaintext")
				}

				got, err := codec.Decrypt(ciphertext, "pw1")
				if err != nil {
					t.Fatalf("Decrypt failed: %v", err)
				}
				if got != plaintext {
					t.Errorf("Decrypt = %q, want %q", got, plaintext)
				}
			})

			t.Run("DifferentCiphertexts", func(t *testing.T) {
				c1, _ := codec.Encrypt("same plaintext", "pw1")
				c2, _ := codec.Encrypt("same plaintext", "pw1")

				if c1 == c2 {
					t.Error("encrypting the same plaintext twice should produce different ciphertexts")
				}
			})

			t.Run("EmptyPlaintext", func(t *testing.T) {
				ciphertext, err := codec.Encrypt("", "pw1")
				if err != nil {
					t.Fatalf("Encrypt failed with empty plaintext: %v", err)
				}
				got, err := codec.Decrypt(ciphertext, "pw1")
				if err != nil {
					t.Fatalf("Decrypt failed: %v", err)
				}
				if got != "" {
					t.Errorf("Decrypt = %q, want empty string", got)
				}
			})

			t.Run("WrongKey", func(t *testing.T) {
				ciphertext, _ := codec.Encrypt("secret", "pw1")

				_, err := codec.Decrypt(ciphertext, "pw2")
				if !errors.Is(err, crypt.ErrDecrypt) {
					t.Errorf("Decrypt with wrong key returned %v, want ErrDecrypt", err)
				}
			})
		})
	}
}

func TestEncryptRequiresKey(t *testing.T) {
	codec := crypt.New(crypt.WithKDF(fastKDF))

	_, err := codec.Encrypt("hello", "")
	if !errors.Is(err, crypt.ErrNoKey) {
		t.Errorf("Encrypt without key returned %v, want ErrNoKey", err)
	}
}

func TestDecryptFailures(t *testing.T) {
	codec := crypt.New(crypt.WithKDF(fastKDF))

	valid, err := codec.Encrypt("hello world", "pw1")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(valid)

	flipped := append([]byte(nil), raw...)
	flipped[len(flipped)-1] ^= 0xff

	badVersion := append([]byte(nil), raw...)
	badVersion[0] = 9

	badAlgorithm := append([]byte(nil), raw...)
	badAlgorithm[1] = 77

	swappedAlgorithm := append([]byte(nil), raw...)
	swappedAlgorithm[1] = byte(crypt.ChaCha20Poly1305)

	enc := base64.StdEncoding.EncodeToString

	testCases := []struct {
		name       string
		ciphertext string
		key        string
	}{
		{"EmptyKey", valid, ""},
		{"EmptyCiphertext", "", "pw1"},
		{"NotBase64", "%%% not base64 %%%", "pw1"},
		{"Truncated", enc(raw[:len(raw)-20]), "pw1"},
		{"HeaderOnly", enc(raw[:18]), "pw1"},
		{"TamperedTag", enc(flipped), "pw1"},
		{"UnknownVersion", enc(badVersion), "pw1"},
		{"UnknownAlgorithm", enc(badAlgorithm), "pw1"},
		{"SwappedAlgorithm", enc(swappedAlgorithm), "pw1"},
		{"CryptoJSStyle", "U2FsdGVkX1+5q6e7c6fY0m0hbxS3U9Vq0q2V7bq1O3Q=", "pw1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := codec.Decrypt(tc.ciphertext, tc.key)
			if !errors.Is(err, crypt.ErrDecrypt) {
				t.Errorf("Decrypt returned %v, want ErrDecrypt", err)
			}
			if got != "" {
				t.Errorf("Decrypt returned plaintext %q on failure", got)
			}
		})
	}
}

func TestKeyCache(t *testing.T) {
	// Costly enough that a derivation dwarfs a cached lookup.
	slowKDF := crypt.KDFParams{Time: 4, Memory: 16 * 1024, Threads: 1}

	t.Run("RepeatedDecryptSkipsDerivation", func(t *testing.T) {
		writer := crypt.New(crypt.WithKDF(slowKDF), crypt.WithKeyCache(0))
		ciphertext, err := writer.Encrypt("cached", "pw1")
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}

		reader := crypt.New(crypt.WithKDF(slowKDF))

		start := time.Now()
		if _, err := reader.Decrypt(ciphertext, "pw1"); err != nil {
			t.Fatalf("first Decrypt failed: %v", err)
		}
		first := time.Since(start)

		start = time.Now()
		got, err := reader.Decrypt(ciphertext, "pw1")
		if err != nil {
			t.Fatalf("second Decrypt failed: %v", err)
		}
		second := time.Since(start)

		if got != "cached" {
			t.Errorf("Decrypt = %q, want %q", got, "cached")
		}
		if second > first/2 {
			t.Errorf("second Decrypt took %v after a first of %v, want a cached key", second, first)
		}
	})

	t.Run("WrongKeyAfterCachedKey", func(t *testing.T) {
		codec := crypt.New(crypt.WithKDF(fastKDF))
		ciphertext, _ := codec.Encrypt("secret", "pw1")

		if _, err := codec.Decrypt(ciphertext, "pw1"); err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if _, err := codec.Decrypt(ciphertext, "pw2"); !errors.Is(err, crypt.ErrDecrypt) {
			t.Errorf("Decrypt with wrong key returned %v, want ErrDecrypt", err)
		}
	})

	t.Run("Eviction", func(t *testing.T) {
		codec := crypt.New(crypt.WithKDF(fastKDF), crypt.WithKeyCache(2))

		var blobs []string
		for range 5 {
			c, err := codec.Encrypt("evicted", "pw1")
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			blobs = append(blobs, c)
		}
		for i, c := range blobs {
			if got, err := codec.Decrypt(c, "pw1"); err != nil || got != "evicted" {
				t.Errorf("Decrypt(blob %d) = %q, %v, want %q", i, got, err, "evicted")
			}
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		codec := crypt.New(crypt.WithKDF(fastKDF), crypt.WithKeyCache(4))
		ciphertext, _ := codec.Encrypt("shared", "pw1")

		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := "pw1"
				if i%2 == 1 {
					key = "pw2"
				}
				got, err := codec.Decrypt(ciphertext, key)
				if key == "pw1" && (err != nil || got != "shared") {
					t.Errorf("Decrypt = %q, %v, want %q", got, err, "shared")
				}
				if key == "pw2" && !errors.Is(err, crypt.ErrDecrypt) {
					t.Errorf("Decrypt with wrong key returned %v, want ErrDecrypt", err)
				}
			}()
		}
		wg.Wait()
	})
}

func TestCrossAlgorithmDecrypt(t *testing.T) {
	aesCodec := crypt.New(crypt.WithAlgorithm(crypt.AESGCM), crypt.WithKDF(fastKDF))
	chachaCodec := crypt.New(crypt.WithAlgorithm(crypt.ChaCha20Poly1305), crypt.WithKDF(fastKDF))

	ciphertext, err := chachaCodec.Encrypt("portable", "pw1")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := aesCodec.Decrypt(ciphertext, "pw1")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "portable" {
		t.Errorf("Decrypt = %q, want %q", got, "portable")
	}
}

func TestParseAlgorithm(t *testing.T) {
	testCases := []struct {
		name    string
		want    crypt.Algorithm
		wantErr bool
	}{
		{"", crypt.AESGCM, false},
		{"aes-gcm", crypt.AESGCM, false},
		{"chacha20-poly1305", crypt.ChaCha20Poly1305, false},
		{"rot13", 0, true},
	}

	for _, tc := range testCases {
		got, err := crypt.ParseAlgorithm(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseAlgorithm(%q) error = %v, wantErr %t", tc.name, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAlgorithm(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPackageLevelFunctions(t *testing.T) {
	ciphertext, err := crypt.Encrypt("default codec", "pw1")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := crypt.Decrypt(ciphertext, "pw1")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "default codec" {
		t.Errorf("Decrypt = %q, want %q", got, "default codec")
	}
}
