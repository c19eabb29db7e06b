package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const cookieKeySize = 32

// DeriveCookieKeys returns the hash and encryption keys for the OIDC state
// and PKCE cookies. With a secret the keys are stable across restarts and
// replicas; without one they are random and in-flight logins do not survive
// a restart.
func DeriveCookieKeys(secret string) (hashKey, encryptKey []byte, err error) {
	if secret == "" {
		if hashKey, err = generateRandomBytes(cookieKeySize); err != nil {
			return nil, nil, fmt.Errorf("generate cookie hash key: %w", err)
		}
		if encryptKey, err = generateRandomBytes(cookieKeySize); err != nil {
			return nil, nil, fmt.Errorf("generate cookie encryption key: %w", err)
		}
		return hashKey, encryptKey, nil
	}

	if hashKey, err = deriveKey(secret, "edgeservice cookie hash"); err != nil {
		return nil, nil, err
	}
	if encryptKey, err = deriveKey(secret, "edgeservice cookie encryption"); err != nil {
		return nil, nil, err
	}
	return hashKey, encryptKey, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, cookieKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
