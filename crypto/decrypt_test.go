package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vodloop/hlsfetch/errors"
)

func encryptCBC(t *testing.T, plaintext, key, iv []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext
}

func TestDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := bytes.Repeat([]byte{0xab}, 16)
	plaintext := bytes.Repeat([]byte("segment payload "), 64)

	ciphertext := encryptCBC(t, plaintext, key, iv)

	got, err := DecryptSegment(ciphertext, key, hex.EncodeToString(iv))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptAccepts0xPrefixedIV(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := bytes.Repeat([]byte{0x01}, 16)
	plaintext := make([]byte, 32)
	ciphertext := encryptCBC(t, plaintext, key, iv)

	got, err := DecryptSegment(ciphertext, key, "0x"+hex.EncodeToString(iv))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptRejectsBadKeyLength(t *testing.T) {
	_, err := DecryptSegment(make([]byte, 16), []byte("short"), "0x"+hex.EncodeToString(make([]byte, 16)))
	require.Error(t, err)
	require.True(t, errors.IsInvalidInput(err))
}

func TestDecryptRejectsUnalignedCiphertext(t *testing.T) {
	_, err := DecryptSegment(make([]byte, 15), []byte("0123456789abcdef"), hex.EncodeToString(make([]byte, 16)))
	require.Error(t, err)
	require.True(t, errors.IsInvalidInput(err))
}

func TestParseIVRejectsNonHex(t *testing.T) {
	_, err := ParseIV("0xnothex")
	require.Error(t, err)
	require.True(t, errors.IsInvalidInput(err))
}

func TestParseIVRejectsShortIV(t *testing.T) {
	_, err := ParseIV("abcd")
	require.Error(t, err)
	require.True(t, errors.IsInvalidInput(err))
}
