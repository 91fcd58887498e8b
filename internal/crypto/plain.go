package crypto

import (
	"context"
	"strings"
)

const plainPrefix = "plain:"

// PlainEncryptor marks values without encrypting them. DEV_MODE only.
type PlainEncryptor struct{}

func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{}
}

func (p *PlainEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	return plainPrefix + plaintext, nil
}

func (p *PlainEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, plainPrefix), nil
}
