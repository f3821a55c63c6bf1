// Package onetime generates and checks short codes that gate account actions
package onetime

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/nkiryanov/identity/internal/models"
)

// Token families and their lifetimes
const (
	VerificationTTL   = 24 * time.Hour
	AuthenticationTTL = 5 * time.Minute
	ResetTTL          = 60 * time.Minute
)

const (
	// No 0/O, 1/I/L, so code may be typed from a mail without mistakes
	alphabet      = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	defaultLength = 8
)

type Generator struct {
	Length int // defaultLength if zero

	// Clock, time.Now if not set
	Now func() time.Time
}

// Random token valid for ttl from now
func (g Generator) Generate(ttl time.Duration) (models.OneTimeToken, error) {
	length := g.Length
	if length == 0 {
		length = defaultLength
	}

	size := big.NewInt(int64(len(alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return models.OneTimeToken{}, fmt.Errorf("error while generating one-time token. Err: %w", err)
		}
		b[i] = alphabet[n.Int64()]
	}

	return models.OneTimeToken{Value: string(b), ExpiresAt: g.now().Add(ttl)}, nil
}

// Result of matching presented value against stored token
type Check int

const (
	Valid Check = iota
	Mismatch
	Expired
)

// Compare in constant time, empty stored token never matches
// Token presented exactly at ExpiresAt is still valid
func (g Generator) Check(stored models.OneTimeToken, presented string) Check {
	if stored.IsZero() || subtle.ConstantTimeCompare([]byte(stored.Value), []byte(presented)) != 1 {
		return Mismatch
	}
	if stored.Expired(g.now()) {
		return Expired
	}
	return Valid
}

func (g Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}
