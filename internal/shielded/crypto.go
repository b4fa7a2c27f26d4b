// crypto.go - Field hashing and randomness for the shielded pool.
//
// All hashes are computed over the BN254 scalar field so that the same values can be
// recomputed inside the transaction circuit. Randomness always comes from crypto/rand.

package shielded

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/pkg/errors"
)

// FieldSize is the BN254 scalar field modulus shared with the ledger contract.
var FieldSize = fr.Modulus()

// MaxAmount bounds note amounts: they are serialized in 31 bytes and range-checked
// to 248 bits by the circuit.
var MaxAmount = new(big.Int).Lsh(big.NewInt(1), 248)

const blindingSize = 31

// Hasher is the field hash used for keys, commitments, nullifiers and the tree.
// It must match the ledger contract bit-for-bit.
type Hasher interface {
	Name() string
	Hash(inputs ...*big.Int) *big.Int
}

// MiMC hashes each input as one 32-byte block with the BN254 MiMC permutation.
// gnark's std/hash/mimc computes the same function in-circuit.
type MiMC struct{}

func (MiMC) Name() string { return "mimc" }

func (MiMC) Hash(inputs ...*big.Int) *big.Int {
	h := mimcNative.NewMiMC()
	for _, in := range inputs {
		var e fr.Element
		e.SetBigInt(in)
		b := e.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Poseidon is the circomlib-compatible Poseidon hash.
type Poseidon struct{}

func (Poseidon) Name() string { return "poseidon" }

func (Poseidon) Hash(inputs ...*big.Int) *big.Int {
	reduced := make([]*big.Int, len(inputs))
	for i, in := range inputs {
		reduced[i] = new(big.Int).Mod(in, FieldSize)
	}
	out, err := poseidon.Hash(reduced)
	if err != nil {
		// only reachable with more inputs than poseidon supports
		panic(errors.Wrap(err, "poseidon hash"))
	}
	return out
}

// HasherByName resolves a configured hash name.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", "mimc":
		return MiMC{}, nil
	case "poseidon":
		return Poseidon{}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidParams, "unknown hasher %q", name)
	}
}

// randomFieldElement samples a uniform element of the scalar field.
func randomFieldElement() (*big.Int, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return nil, errors.Wrap(err, "sample field element")
	}
	return e.BigInt(new(big.Int)), nil
}

// randomBlinding samples a 31-byte blinding factor.
func randomBlinding() (*big.Int, error) {
	b := make([]byte, blindingSize)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "sample blinding")
	}
	return new(big.Int).SetBytes(b), nil
}

// toFixedBytes encodes v big-endian into exactly n bytes.
func toFixedBytes(v *big.Int, n int) []byte {
	out := make([]byte, n)
	v.FillBytes(out)
	return out
}
