package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"

	"automail/config"
)

// Decrypt opens an SMTP credential sealed with the configured 32-byte key:
// base64url of a 16-byte IV followed by the AES-CFB ciphertext.
func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	block, err := aes.NewCipher([]byte(config.AppConfig.EncryptionKey))
	if err != nil {
		return "", err
	}

	decoded, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(decoded) < aes.BlockSize {
		return "", errors.New("ciphertext too short")
	}

	iv := decoded[:aes.BlockSize]
	decoded = decoded[aes.BlockSize:]

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(decoded, decoded)

	return string(decoded), nil
}

func trackingSecret() string {
	if config.AppConfig.JWTSecret != "" {
		return config.AppConfig.JWTSecret
	}
	return config.AppConfig.EncryptionKey
}
