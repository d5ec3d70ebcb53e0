package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"strings"

	"github.com/vodloop/hlsfetch/errors"
)

// ParseIV decodes an HLS key IV attribute, which is a hex string with or
// without a 0x prefix, into the 16 bytes AES-CBC needs.
func ParseIV(iv string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(iv, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, errors.InvalidInput("iv %q is not valid hex: %s", iv, err)
	}
	if len(raw) != aes.BlockSize {
		return nil, errors.InvalidInput("iv %q decodes to %d bytes, want %d", iv, len(raw), aes.BlockSize)
	}
	return raw, nil
}

// DecryptSegment decrypts one AES-128-CBC transport-stream segment. The
// plaintext has the same length as the ciphertext; no padding is removed
// because segments are block-aligned on the wire. Stateless and safe for
// concurrent use.
func DecryptSegment(ciphertext, key []byte, iv string) ([]byte, error) {
	if len(key) != 16 {
		return nil, errors.InvalidInput("key length %d, want 16", len(key))
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.InvalidInput("ciphertext length %d is not a multiple of %d", len(ciphertext), aes.BlockSize)
	}
	rawIV, err := ParseIV(iv)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InvalidInput("creating AES cipher: %s", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, rawIV).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}
