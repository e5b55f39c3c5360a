package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs the payloads embedded in V4 signed URLs.
type Signer interface {
	// Email is the service account used as the GoogleAccessID.
	Email() string
	// SignBytes signs the payload with the account's private key.
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs locally with the RSA key from a service account
// JSON credential, avoiding a round trip to the IAM credentials API per URL.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewServiceAccountSignerFromJSON parses a service account key file's
// contents into a signer.
func NewServiceAccountSignerFromJSON(data []byte) (*ServiceAccountSigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: service account JSON is empty")
	}

	var credential struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &credential); err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}

	email := strings.TrimSpace(credential.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account JSON")
	}
	pemKey := strings.TrimSpace(credential.PrivateKey)
	if pemKey == "" {
		return nil, errors.New("storage: private_key missing in service account JSON")
	}

	key, err := decodeRSAKey(pemKey)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: email, key: key}, nil
}

// NewServiceAccountSignerFromFile reads the key file from disk.
func NewServiceAccountSignerFromFile(path string) (*ServiceAccountSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account file: %w", err)
	}
	return NewServiceAccountSignerFromJSON(data)
}

func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes produces an RSA PKCS#1 v1.5 signature over the SHA-256 digest,
// the scheme GCS expects for V4 URL signatures.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if len(payload) == 0 {
		return nil, errors.New("storage: payload is empty")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	digest := sha256.Sum256(payload)
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return signature, nil
}

// decodeRSAKey accepts both PKCS#8 and PKCS#1 encodings; Google issues
// PKCS#8 but older exported keys may be PKCS#1.
func decodeRSAKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("storage: private key is not valid PEM")
	}

	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return key, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
	}
	return key, nil
}
