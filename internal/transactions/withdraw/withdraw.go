// Package withdraw shapes a withdrawal into a transaction request: the withdrawn
// amount leaves the pool as a negative external amount and the remainder comes back
// as one change note.
package withdraw

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"shieldedpool/internal/shielded"
	"shieldedpool/internal/transactions/transact"
)

var (
	ErrNoRecipient       = errors.New("withdrawal needs a recipient")
	ErrInsufficientFunds = errors.New("inputs do not cover amount and fee")
)

// Request withdraws Amount to Recipient, paying Fee to Relayer. The change note is
// owned by ChangeKeypair, or by the first input's keypair when nil.
type Request struct {
	Inputs        []*shielded.Utxo
	Amount        *big.Int
	Fee           *big.Int
	Recipient     common.Address
	Relayer       common.Address
	ChangeKeypair *shielded.Keypair
}

// Build returns the transact.Request and the change note it creates.
func (r Request) Build(h shielded.Hasher) (transact.Request, *shielded.Utxo, error) {
	if r.Recipient == (common.Address{}) {
		return transact.Request{}, nil, ErrNoRecipient
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return transact.Request{}, nil, errors.New("withdrawal amount must be positive")
	}
	if len(r.Inputs) == 0 {
		return transact.Request{}, nil, ErrInsufficientFunds
	}
	fee := new(big.Int)
	if r.Fee != nil {
		fee.Set(r.Fee)
	}

	total := new(big.Int)
	for i, in := range r.Inputs {
		if in == nil || in.Amount == nil {
			return transact.Request{}, nil, errors.Errorf("input %d is nil", i)
		}
		total.Add(total, in.Amount)
	}
	change := new(big.Int).Sub(total, r.Amount)
	change.Sub(change, fee)
	if change.Sign() < 0 {
		return transact.Request{}, nil, errors.Wrapf(ErrInsufficientFunds, "have %s, need %s + fee %s", total, r.Amount, fee)
	}

	owner := r.ChangeKeypair
	if owner == nil {
		owner = r.Inputs[0].Keypair
	}
	changeNote, err := shielded.NewUtxo(h, shielded.UtxoOptions{Amount: change, Keypair: owner})
	if err != nil {
		return transact.Request{}, nil, err
	}

	return transact.Request{
		Inputs:    r.Inputs,
		Outputs:   []*shielded.Utxo{changeNote},
		ExtAmount: new(big.Int).Neg(r.Amount),
		Fee:       fee,
		Recipient: r.Recipient,
		Relayer:   r.Relayer,
	}, changeNote, nil
}
