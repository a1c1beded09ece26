package services

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// CredentialLength is the number of characters in a generated code.
	CredentialLength = 8

	credentialAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CodeGenerator produces a fresh credential.
type CodeGenerator func() (string, error)

// GenerateCredential returns CredentialLength characters drawn uniformly
// from A–Z0–9 using crypto/rand.
func GenerateCredential() (string, error) {
	size := big.NewInt(int64(len(credentialAlphabet)))
	b := make([]byte, CredentialLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = credentialAlphabet[n.Int64()]
	}
	return string(b), nil
}

// CredentialPolicy decides whether an existing credential is reused or a new
// one generated. It has no side effects; persisting is the caller's job.
type CredentialPolicy struct {
	// Generate creates new credentials; nil means GenerateCredential.
	Generate CodeGenerator
}

// ExistingOrNew returns the trimmed current value when it is non-empty,
// otherwise a newly generated credential. generated reports which case
// applied.
func (p CredentialPolicy) ExistingOrNew(current string) (cred string, generated bool, err error) {
	if c := strings.TrimSpace(current); c != "" {
		return c, false, nil
	}
	gen := p.Generate
	if gen == nil {
		gen = GenerateCredential
	}
	cred, err = gen()
	if err != nil {
		return "", false, err
	}
	return cred, true, nil
}
