// Package secure implements the data hub's envelope format for the
// published forecast document: AES-256-CBC encryption with an HMAC-SHA256
// signature over IV‖ciphertext, base64-encoded as
//
//	base64( IV(16) ‖ ciphertext ‖ HMAC(32) )
//
// with PKCS#7 padding inside the ciphertext.
package secure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
)

const (
	keyLen = 32 // 256-bit keys for both encryption and HMAC
	ivLen  = aes.BlockSize
	macLen = sha256.Size
)

// Handler encrypts, signs, verifies, and decrypts forecast documents.
type Handler struct {
	encKey []byte
	macKey []byte
}

// NewHandler creates a Handler from base64-encoded 256-bit keys, validating
// format and length up front so a misconfigured deploy fails loudly.
func NewHandler(encKeyB64, macKeyB64 string) (*Handler, error) {
	encKey, err := decodeKey(encKeyB64, "encryption key")
	if err != nil {
		return nil, err
	}
	macKey, err := decodeKey(macKeyB64, "hmac key")
	if err != nil {
		return nil, err
	}
	return &Handler{encKey: encKey, macKey: macKey}, nil
}

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

func decodeKey(b64, name string) ([]byte, error) {
	if b64 == "" {
		return nil, fmt.Errorf("%s is not set", name)
	}
	if !base64Pattern.MatchString(b64) {
		return nil, fmt.Errorf("%s does not look like base64", name)
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("%s has length %d bytes, want %d (256-bit)", name, len(key), keyLen)
	}
	return key, nil
}

// EncryptAndSign encrypts plaintext and returns the base64 envelope.
func (h *Handler) EncryptAndSign(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(h.encKey)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	padded := pad(plaintext)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, h.macKey)
	mac.Write(iv)
	mac.Write(ciphertext)

	envelope := append(append(iv, ciphertext...), mac.Sum(nil)...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptAndVerify checks the envelope's signature and returns the
// decrypted plaintext. Verification happens before decryption; a tampered
// envelope never reaches the cipher.
func (h *Handler) DecryptAndVerify(envelopeB64 string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if len(envelope) < ivLen+aes.BlockSize+macLen {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(envelope))
	}

	iv := envelope[:ivLen]
	ciphertext := envelope[ivLen : len(envelope)-macLen]
	signature := envelope[len(envelope)-macLen:]

	mac := hmac.New(sha256.New, h.macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return nil, fmt.Errorf("hmac verification failed")
	}

	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not block-aligned", len(ciphertext))
	}
	block, err := aes.NewCipher(h.encKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return unpad(padded)
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(padded[len(padded)-1])
	if n == 0 || n > aes.BlockSize || n > len(padded) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range padded[len(padded)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return padded[:len(padded)-n], nil
}

// LooksEncrypted reports whether file content is a base64 envelope rather
// than plain JSON, so callers can auto-detect which loader to use.
func LooksEncrypted(content []byte) bool {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return false
	}
	return base64Pattern.Match(trimmed)
}
