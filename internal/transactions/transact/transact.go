// Package transact assembles shielded pool transactions: it pads inputs and outputs
// to a circuit tier, enforces value conservation, derives nullifiers, commitments and
// ciphertexts, shuffles them, and hands the witness to a prover.
package transact

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/shielded"
)

// Request describes one transaction. Nil ExtAmount is derived as fee + sum(out) - sum(in);
// nil Fee is zero; zero addresses mean no recipient or relayer.
type Request struct {
	Inputs    []*shielded.Utxo
	Outputs   []*shielded.Utxo
	ExtAmount *big.Int
	Fee       *big.Int
	Recipient common.Address
	Relayer   common.Address
}

// Tree is the read side of the commitment tree the builder needs.
type Tree interface {
	Height() int
	Root() *big.Int
	Leaf(index uint64) (*big.Int, error)
	Path(index uint64) (*merkle.Path, error)
}

// InputWitness is the private data of one spent note.
type InputWitness struct {
	Amount       *big.Int
	Blinding     *big.Int
	PrivateKey   *big.Int
	PathIndex    uint64
	PathElements []*big.Int
}

// OutputWitness is the private data of one created note.
type OutputWitness struct {
	Amount    *big.Int
	Blinding  *big.Int
	PublicKey *big.Int
}

// Witness is the full proof input. The first five fields are public.
type Witness struct {
	Tier              Tier
	Root              *big.Int
	PublicAmount      *big.Int
	ExtDataHash       *big.Int
	InputNullifiers   []*big.Int
	OutputCommitments []*big.Int
	Inputs            []InputWitness
	Outputs           []OutputWitness
}

// Prover turns a witness into a serialized proof.
type Prover interface {
	Prove(ctx context.Context, w *Witness) ([]byte, error)
}

// Args are the proof and public signals submitted to the ledger.
type Args struct {
	Proof             []byte
	Root              *big.Int
	InputNullifiers   []*big.Int
	OutputCommitments []*big.Int
	PublicAmount      *big.Int
	ExtDataHash       *big.Int
}

// Transaction is a proven transaction ready for submission. Inputs and Outputs are
// the padded notes in the order of their nullifiers and commitments.
type Transaction struct {
	Tier    Tier
	Args    Args
	ExtData ExtData
	Inputs  []*shielded.Utxo
	Outputs []*shielded.Utxo
}
