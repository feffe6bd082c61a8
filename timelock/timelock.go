// Package timelock wraps a payload in a computation-bounded encryption
// layer. The sealing key is recoverable in exactly two ways: instantly,
// through a trapdoor held by the issuing system, or by performing a fixed
// number of inherently sequential modular squarings (the puzzle of Rivest,
// Shamir and Wagner). Destroying the trapdoor leaves the sequential path
// as the only one, which bounds how soon an attacker holding exfiltrated
// ciphertext can decrypt it.
package timelock

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/halflife/internal/util"
)

const (
	// DefaultModulusBits is the RSA modulus size used for production
	// puzzles. Tests use smaller moduli via Params.
	DefaultModulusBits = 2048

	// hkdfInfo domain-separates the puzzle key derivation.
	hkdfInfo = "halflife:timelock:v1"

	// solveCheckInterval is how many squarings run between context
	// cancellation checks.
	solveCheckInterval = 4096
)

var one = big.NewInt(1)

// Params configures puzzle generation.
type Params struct {
	// ModulusBits is the size of the composite modulus.
	ModulusBits int
	// Iterations is T, the number of sequential squarings required to
	// open the puzzle without the trapdoor.
	Iterations uint64
}

// IterationsFor translates a fragment lifetime and an assumed adversary
// squaring throughput into an iteration count with the given safety
// margin. The throughput figure is an explicit adversary-model input and
// must be recalibrated as hardware improves.
func IterationsFor(lifetime time.Duration, squaringsPerSecond uint64, margin float64) uint64 {
	if margin < 1 {
		margin = 1
	}
	secs := lifetime.Seconds() * margin
	return uint64(secs * float64(squaringsPerSecond))
}

// Puzzle is the public part of a time-locked payload. It is safe to
// persist and distribute: recovering the sealing key from it requires
// either the trapdoor or Iterations sequential squarings.
type Puzzle struct {
	Modulus    *big.Int `json:"modulus"`
	Base       *big.Int `json:"base"`
	Iterations uint64   `json:"iterations"`
	Salt       []byte   `json:"salt"`
	// Commitment is SHA-256 of the unlock value, letting a solver verify
	// its result cheaply before attempting decryption.
	Commitment []byte `json:"commitment"`
	Ciphertext []byte `json:"ciphertext"`
}

// Trapdoor holds the group order of a puzzle's modulus inside a memguard
// enclave. Destroy is irreversible: once called, the puzzle can only be
// opened by sequential computation.
type Trapdoor struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// Destroyed reports whether the trapdoor material has been destroyed.
func (t *Trapdoor) Destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enclave == nil
}

// Destroy discards the trapdoor material. Calling it again is a no-op.
func (t *Trapdoor) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enclave == nil {
		return
	}
	if buf, err := t.enclave.Open(); err == nil {
		buf.Destroy()
	}
	t.enclave = nil
}

// order opens the enclave and returns the group order. The caller must
// wipe the returned bytes.
func (t *Trapdoor) order() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enclave == nil {
		return nil, ErrTrapdoorDestroyed
	}
	buf, err := t.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening trapdoor enclave: %w", err)
	}
	defer buf.Destroy()
	return util.CopyBytes(buf.Bytes()), nil
}

// Seal time-locks plaintext under a fresh puzzle and returns the puzzle
// together with its trapdoor. The aad is bound into the inner AES-GCM
// layer and must be presented again to open.
func Seal(plaintext, aad []byte, params Params) (*Puzzle, *Trapdoor, error) {
	if params.ModulusBits == 0 {
		params.ModulusBits = DefaultModulusBits
	}
	if params.ModulusBits < 128 {
		return nil, nil, fmt.Errorf("modulus size %d too small", params.ModulusBits)
	}
	if params.Iterations == 0 {
		return nil, nil, fmt.Errorf("iteration count must be positive")
	}

	p, err := rand.Prime(rand.Reader, params.ModulusBits/2)
	if err != nil {
		return nil, nil, fmt.Errorf("generating prime: %w", err)
	}
	q, err := rand.Prime(rand.Reader, params.ModulusBits/2)
	if err != nil {
		return nil, nil, fmt.Errorf("generating prime: %w", err)
	}

	n := new(big.Int).Mul(p, q)
	order := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))

	base, err := rand.Int(rand.Reader, n)
	if err != nil {
		return nil, nil, fmt.Errorf("generating puzzle base: %w", err)
	}
	if base.Cmp(big.NewInt(2)) < 0 {
		base = big.NewInt(2)
	}

	// Fast path: a^(2^T) mod n computed via the group order.
	exp := new(big.Int).Exp(big.NewInt(2), new(big.Int).SetUint64(params.Iterations), order)
	unlock := new(big.Int).Exp(base, exp, n)

	salt, err := util.RandomBytes(32)
	if err != nil {
		return nil, nil, err
	}

	key, err := util.HKDF(unlock.Bytes(), salt, []byte(hkdfInfo))
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(key)

	ciphertext, err := util.EncryptAESWithAAD(plaintext, key, aad)
	if err != nil {
		return nil, nil, err
	}

	commitment := sha256.Sum256(unlock.Bytes())

	orderBytes := order.Bytes()
	trapdoor := &Trapdoor{enclave: memguard.NewEnclave(orderBytes)}

	return &Puzzle{
		Modulus:    n,
		Base:       base,
		Iterations: params.Iterations,
		Salt:       salt,
		Commitment: commitment[:],
		Ciphertext: ciphertext,
	}, trapdoor, nil
}

// Open decrypts a puzzle instantly using its trapdoor.
func Open(puzzle *Puzzle, trapdoor *Trapdoor, aad []byte) ([]byte, error) {
	orderBytes, err := trapdoor.order()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(orderBytes)

	order := new(big.Int).SetBytes(orderBytes)
	exp := new(big.Int).Exp(big.NewInt(2), new(big.Int).SetUint64(puzzle.Iterations), order)
	unlock := new(big.Int).Exp(puzzle.Base, exp, puzzle.Modulus)

	return decryptWithUnlock(puzzle, unlock, aad)
}

// Solve opens a puzzle the slow way: Iterations sequential modular
// squarings. It honors context cancellation between batches of squarings.
func Solve(ctx context.Context, puzzle *Puzzle, aad []byte) ([]byte, error) {
	unlock := new(big.Int).Set(puzzle.Base)
	for i := uint64(0); i < puzzle.Iterations; i++ {
		if i%solveCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		unlock.Mul(unlock, unlock)
		unlock.Mod(unlock, puzzle.Modulus)
	}
	return decryptWithUnlock(puzzle, unlock, aad)
}

func decryptWithUnlock(puzzle *Puzzle, unlock *big.Int, aad []byte) ([]byte, error) {
	sum := sha256.Sum256(unlock.Bytes())
	if !bytes.Equal(sum[:], puzzle.Commitment) {
		return nil, fmt.Errorf("unlock value does not match puzzle commitment")
	}

	key, err := util.HKDF(unlock.Bytes(), puzzle.Salt, []byte(hkdfInfo))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	plaintext, err := util.DecryptAESWithAAD(puzzle.Ciphertext, key, aad)
	if err != nil {
		return nil, fmt.Errorf("opening time-locked payload: %w", err)
	}
	return plaintext, nil
}
