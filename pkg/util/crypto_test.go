package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef") // 32 bytes, AES-256
	key = key[:32]
	plaintext := "0xabcdef0123456789abcdef0123456789abcdef0123456789abcdef01234567"

	enc, err := Encrypt(key, plaintext)
	assert.NoError(t, err)
	assert.NotEmpty(t, enc)

	dec, err := Decrypt(key, enc)
	assert.NoError(t, err)
	assert.Equal(t, plaintext, dec)
}

func TestDecrypt_BadCiphertext(t *testing.T) {
	key := make([]byte, 32)
	_, err := Decrypt(key, "not-base64!!")
	assert.Error(t, err)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 1

	enc, err := Encrypt(key1, "secret")
	assert.NoError(t, err)

	_, err = Decrypt(key2, enc)
	assert.Error(t, err)
}
