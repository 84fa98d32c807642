package auth

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultBcryptCost is used when the configured cost is zero.
const DefaultBcryptCost = 12

// maxPasswordBytes is the longest input bcrypt accepts without truncation.
const maxPasswordBytes = 72

// Hasher hashes and verifies passwords with bcrypt.
//
// bcrypt is CPU bound, so every call first takes a slot from a bounded
// worker budget. Waiting for a slot honours ctx; the hash itself cannot be
// cancelled once started.
type Hasher struct {
	cost    int
	workers *semaphore.Weighted
	compare func(hash, password []byte) error
}

// NewHasher creates a Hasher. A zero cost selects DefaultBcryptCost and a
// non-positive worker count selects runtime.NumCPU().
func NewHasher(cost, workers int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d outside [%d, %d]", ErrInvalidInput, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Hasher{
		cost:    cost,
		workers: semaphore.NewWeighted(int64(workers)),
		compare: bcrypt.CompareHashAndPassword,
	}, nil
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns a self-describing bcrypt hash of plaintext with a fresh salt.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := checkPassword(plaintext); err != nil {
		return "", err
	}
	if err := h.workers.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for hash worker: %w", err)
	}
	defer h.workers.Release(1)

	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plaintext matches hash. A malformed hash, an
// out-of-range plaintext or a cancelled context all yield false.
//
// Out-of-range input still pays for one comparison so rejections take as
// long as a wrong password does.
func (h *Hasher) Verify(ctx context.Context, plaintext, hash string) bool {
	valid := checkPassword(plaintext) == nil
	if err := h.workers.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.workers.Release(1)

	pw := []byte(plaintext)
	if len(pw) > maxPasswordBytes {
		pw = pw[:maxPasswordBytes]
	}
	return h.compare([]byte(hash), pw) == nil && valid
}

func checkPassword(plaintext string) error {
	if plaintext == "" {
		return fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if len(plaintext) > maxPasswordBytes {
		return fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}
