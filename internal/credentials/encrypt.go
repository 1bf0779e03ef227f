package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/scrypt"
)

const saltLen = 32

func deriveCipher(key, salt []byte) (cipher.AEAD, error) {
	derivedKey, err := scrypt.Key(key, salt, 32768, 8, 1, 32)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// encrypt seals raw with a key derived from the passphrase.
// The output is nonce | ciphertext | salt.
func encrypt(raw, key []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	gcm, err := deriveCipher(key, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphered := gcm.Seal(nonce, nonce, raw, nil)
	return append(ciphered, salt...), nil
}

func decrypt(ciphered, key []byte) ([]byte, error) {
	if len(ciphered) < saltLen {
		return nil, errors.New("ciphered data is too short")
	}
	salt, data := ciphered[len(ciphered)-saltLen:], ciphered[:len(ciphered)-saltLen]

	gcm, err := deriveCipher(key, salt)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphered data is too short")
	}
	decrypted, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return nil, err
	}

	return decrypted, nil
}
