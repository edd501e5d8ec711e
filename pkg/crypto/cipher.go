package crypto

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

var (
	ErrInvalidKey        = errors.New("encryption key must be 16 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// KeyProvider supplies the symmetric key used to encrypt a token file.
type KeyProvider interface {
	Key(ctx context.Context) ([]byte, error)
}

// StaticKey is a KeyProvider returning a fixed key.
type StaticKey []byte

func (k StaticKey) Key(context.Context) ([]byte, error) {
	if len(k) != KeySize {
		return nil, ErrInvalidKey
	}
	return []byte(k), nil
}

// legacyFileKey is shared by every installation so older clients can read
// the token file. It obfuscates the file; it is not a secret.
var legacyFileKey = StaticKey{
	0xd4, 0xbe, 0x09, 0x06, 0xbc, 0x9f, 0xae, 0x40,
	0xce, 0x5c, 0x8e, 0x7c, 0xa7, 0xd4, 0xab, 0x3f,
}

// DefaultFileKey returns the provider used by the plain file store.
func DefaultFileKey() KeyProvider {
	return legacyFileKey
}

// ParseHexKey decodes a hex encoded 16 byte key.
func ParseHexKey(s string) (StaticKey, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return StaticKey(key), nil
}

// Encrypt encrypts plaintext with AES-128-CBC, a zero IV and PKCS#7 padding
// and returns the hex encoded ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, padded)
	encoded := make([]byte, hex.EncodedLen(len(out)))
	hex.Encode(encoded, out)
	return encoded, nil
}

// Decrypt reverses Encrypt. A wrong key almost always surfaces as
// ErrInvalidCiphertext because the padding does not verify.
func Decrypt(key, encoded []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	data := make([]byte, hex.DecodedLen(len(bytes.TrimSpace(encoded))))
	if _, err := hex.Decode(data, bytes.TrimSpace(encoded)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return unpad(out, aes.BlockSize)
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return aes.NewCipher(key)
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, ErrInvalidCiphertext
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidCiphertext
		}
	}
	return data[:len(data)-n], nil
}
