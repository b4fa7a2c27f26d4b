// Package register builds the payload of a register-and-transact call: the sender's
// shielded address published against their ledger account, and the private key of that
// shielded keypair encrypted under a backup keypair so it can be recovered from ledger
// events alone.
package register

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"shieldedpool/internal/shielded"
)

// ErrAccountMismatch is returned when a recovered keypair does not match the
// address registered for the account.
var ErrAccountMismatch = errors.New("recovered keypair does not match registered address")

// Payload is published by the ledger as PublicKey and EncryptedAccount events.
type Payload struct {
	Owner            common.Address
	PublicKey        string
	EncryptedAccount []byte
}

// NewPayload publishes deposit's address for owner and encrypts its private key
// under backup. backup may be public-only.
func NewPayload(owner common.Address, deposit, backup *shielded.Keypair) (*Payload, error) {
	if owner == (common.Address{}) {
		return nil, errors.New("owner account is required")
	}
	sk, err := deposit.PrivateKeyBytes()
	if err != nil {
		return nil, errors.Wrap(err, "deposit keypair")
	}
	account, err := backup.Encrypt(sk)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt account")
	}
	return &Payload{
		Owner:            owner,
		PublicKey:        deposit.Address(),
		EncryptedAccount: account,
	}, nil
}

// Recover decrypts an EncryptedAccount event with the backup keypair.
func Recover(h shielded.Hasher, backup *shielded.Keypair, encryptedAccount []byte) (*shielded.Keypair, error) {
	raw, err := backup.Decrypt(encryptedAccount)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, shielded.ErrCorruptedNote
	}
	return shielded.KeypairFromPrivateKey(h, new(big.Int).SetBytes(raw))
}

// VerifyRecovered checks a recovered keypair against the registered address.
func VerifyRecovered(kp *shielded.Keypair, registered string) error {
	want, err := shielded.KeypairFromString(registered)
	if err != nil {
		return err
	}
	if want.Address() != kp.Address() {
		return ErrAccountMismatch
	}
	return nil
}
