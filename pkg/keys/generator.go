package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// DefaultBcryptCost is the adaptive hash work factor used at issuance.
const DefaultBcryptCost = 12

// Generator produces secrets and their stored digests.
type Generator struct {
	cost int
}

// NewGenerator creates a generator with the given bcrypt cost. Costs outside
// bcrypt's supported range fall back to the default.
func NewGenerator(cost int) *Generator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Generator{cost: cost}
}

// GenerateSecret creates a new plaintext secret for the given kind.
// Format: <kind tag><32 base62 characters>, e.g. gk_user_Ab3...
func (g *Generator) GenerateSecret(kind Kind) (string, error) {
	tag := SecretPrefixUser
	if kind == KindSystem {
		tag = SecretPrefixSystem
	}
	body, err := randomBase62(SecretBodyLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate secret body: %w", err)
	}
	return tag + body, nil
}

// Hash computes the bcrypt verification hash stored on the record.
func (g *Generator) Hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), g.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(h), nil
}

// LookupDigest computes the deterministic SHA-256 digest used as the store's
// point-lookup key. Unlike the bcrypt hash it can be recomputed from the
// presented secret on the authentication hot path.
func LookupDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomBase62(length int) (string, error) {
	max := big.NewInt(int64(len(base62Chars)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = base62Chars[n.Int64()]
	}
	return string(buf), nil
}
