package transact

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"shieldedpool/internal/shielded"
)

// ExtData is the public, non-field part of a transaction. The proof commits to it
// through ExtDataHash.
type ExtData struct {
	Recipient        common.Address
	ExtAmount        *big.Int
	Relayer          common.Address
	Fee              *big.Int
	EncryptedOutputs [][]byte
}

var extDataArgs = mustExtDataArgs()

func mustExtDataArgs() abi.Arguments {
	tuple, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "recipient", Type: "address"},
		{Name: "extAmount", Type: "int256"},
		{Name: "relayer", Type: "address"},
		{Name: "fee", Type: "uint256"},
		{Name: "encryptedOutputs", Type: "bytes[]"},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: tuple}}
}

// EncodeExtData returns abi.encode(extData) as the contract computes it.
func EncodeExtData(ext ExtData) ([]byte, error) {
	packed, err := extDataArgs.Pack(ext)
	if err != nil {
		return nil, errors.Wrap(err, "abi encode ext data")
	}
	return packed, nil
}

// HashExtData returns keccak256(abi.encode(extData)) mod FIELD_SIZE.
func HashExtData(ext ExtData) (*big.Int, error) {
	packed, err := EncodeExtData(ext)
	if err != nil {
		return nil, err
	}
	h := new(big.Int).SetBytes(crypto.Keccak256(packed))
	return h.Mod(h, shielded.FieldSize), nil
}

// CalculatePublicAmount returns (extAmount - fee) mod FIELD_SIZE.
func CalculatePublicAmount(extAmount, fee *big.Int) *big.Int {
	v := new(big.Int).Sub(extAmount, fee)
	return v.Mod(v, shielded.FieldSize)
}
