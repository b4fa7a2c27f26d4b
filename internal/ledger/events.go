package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CommitmentEvent is emitted for every output of an accepted transaction.
type CommitmentEvent struct {
	Commitment      *big.Int `json:"commitment"`
	Index           uint64   `json:"index"`
	EncryptedOutput []byte   `json:"encryptedOutput"`
	Block           uint64   `json:"block"`
}

// NullifierEvent is emitted for every spent input.
type NullifierEvent struct {
	Nullifier *big.Int `json:"nullifier"`
	Block     uint64   `json:"block"`
}

// PublicKeyEvent links a ledger account to a shielded address.
type PublicKeyEvent struct {
	Owner common.Address `json:"owner"`
	Key   string         `json:"key"`
	Block uint64         `json:"block"`
}

// EncryptedAccountEvent carries a backup-encrypted shielded private key.
type EncryptedAccountEvent struct {
	Owner   common.Address `json:"owner"`
	Account []byte         `json:"account"`
	Block   uint64         `json:"block"`
}
