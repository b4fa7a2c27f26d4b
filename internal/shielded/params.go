package shielded

import (
	"math/big"

	"github.com/pkg/errors"
)

// ZeroValue is keccak256("tornado") mod FieldSize, the leaf value of empty tree slots.
var ZeroValue, _ = new(big.Int).SetString("21663839004416932945382355908790599225266501822907911457504978515578255421292", 10)

// DefaultTreeHeight matches the deployed pool's commitment tree.
const DefaultTreeHeight = 5

// MaxTreeHeight bounds the tree so leaf indices fit the circuit's path bits.
const MaxTreeHeight = 32

// Params holds the field, tree and amount parameters shared with the ledger.
type Params struct {
	Hasher       Hasher
	TreeHeight   int
	ZeroValue    *big.Int
	MaxExtAmount *big.Int
	MaxFee       *big.Int
}

// DefaultParams returns the pool defaults: MiMC, height 5, MAX_EXT_AMOUNT = MAX_FEE = 2^248.
func DefaultParams() *Params {
	return &Params{
		Hasher:       MiMC{},
		TreeHeight:   DefaultTreeHeight,
		ZeroValue:    new(big.Int).Set(ZeroValue),
		MaxExtAmount: new(big.Int).Lsh(big.NewInt(1), 248),
		MaxFee:       new(big.Int).Lsh(big.NewInt(1), 248),
	}
}

// Validate checks the parameters once at configuration time.
// MaxExtAmount + MaxFee must stay below the field size so public amounts never wrap.
func (p *Params) Validate() error {
	if p.Hasher == nil {
		return errors.Wrap(ErrInvalidParams, "hasher is nil")
	}
	if p.TreeHeight < 1 || p.TreeHeight > MaxTreeHeight {
		return errors.Wrapf(ErrInvalidParams, "tree height %d not in [1, %d]", p.TreeHeight, MaxTreeHeight)
	}
	if p.ZeroValue == nil || p.ZeroValue.Sign() < 0 || p.ZeroValue.Cmp(FieldSize) >= 0 {
		return errors.Wrap(ErrInvalidParams, "zero value is not a field element")
	}
	if p.MaxExtAmount == nil || p.MaxFee == nil || p.MaxExtAmount.Sign() <= 0 || p.MaxFee.Sign() <= 0 {
		return errors.Wrap(ErrInvalidParams, "amount bounds must be positive")
	}
	sum := new(big.Int).Add(p.MaxExtAmount, p.MaxFee)
	if sum.Cmp(FieldSize) >= 0 {
		return errors.Wrap(ErrInvalidParams, "MAX_EXT_AMOUNT + MAX_FEE must be below FIELD_SIZE")
	}
	return nil
}
