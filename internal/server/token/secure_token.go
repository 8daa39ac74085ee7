package token

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const base58 = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// SecureToken generates a random base58 token of the given length.
func SecureToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.Errorf("invalid token length: %d", length)
	}

	max := big.NewInt(int64(len(base58)))
	token := make([]byte, length)
	for i := range token {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "could not generate token")
		}
		token[i] = base58[n.Int64()]
	}

	return string(token), nil
}

// Digest returns the storage form of the given token.
// Raw tokens are never stored.
func Digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
