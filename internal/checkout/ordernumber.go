package checkout

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

// MaxOrderNumberAttempts bounds the regenerate loop in GenerateOrderNumber.
const MaxOrderNumberAttempts = 10

var ErrOrderNumberExhausted = errors.New("could not generate a unique order number")

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{6}$`)

// UniquenessCheck reports whether candidate is already in use.
type UniquenessCheck func(ctx context.Context, candidate string) (bool, error)

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXX with three random bytes from r.
func NewOrderNumber(now time.Time, r io.Reader) (string, error) {
	var suffix [3]byte
	if _, err := io.ReadFull(r, suffix[:]); err != nil {
		return "", fmt.Errorf("read order number suffix: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%X", now.UTC().Format("20060102"), suffix[:]), nil
}

func ValidOrderNumber(s string) bool {
	return orderNumberPattern.MatchString(s)
}

func GenerateOrderNumber(ctx context.Context, now time.Time, taken UniquenessCheck) (string, error) {
	return generateOrderNumber(ctx, now, rand.Reader, taken)
}

func generateOrderNumber(ctx context.Context, now time.Time, r io.Reader, taken UniquenessCheck) (string, error) {
	for attempt := 0; attempt < MaxOrderNumberAttempts; attempt++ {
		candidate, err := NewOrderNumber(now, r)
		if err != nil {
			return "", err
		}

		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}

	return "", ErrOrderNumberExhausted
}
