package shielded

import (
	"iter"
	"math/big"
)

// Candidate is one published output: a commitment, its tree index and its ciphertext.
type Candidate struct {
	Commitment      *big.Int
	Index           uint64
	EncryptedOutput []byte
}

// Batch groups the outputs published by one ledger transaction. Their order was
// shuffled by the sender, so a recipient has to try all of them.
type Batch struct {
	Block      uint64
	Candidates []Candidate
}

// All yields the candidates in publication order. The sequence can be ranged over
// any number of times.
func (b Batch) All() iter.Seq2[int, Candidate] {
	return func(yield func(int, Candidate) bool) {
		for i, c := range b.Candidates {
			if !yield(i, c) {
				return
			}
		}
	}
}

// ScanBatch returns the single note of the batch addressed to kp.
// It fails with ErrNoteNotFound when no candidate decrypts and with ErrAmbiguousNote
// when more than one does.
func ScanBatch(kp *Keypair, b Batch) (*Utxo, error) {
	if !kp.HasPrivateKey() {
		return nil, ErrMissingPrivateKey
	}
	var found *Utxo
	for _, c := range b.All() {
		u, err := DecryptCandidate(kp, c)
		if err != nil {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousNote
		}
		found = u
	}
	if found == nil {
		return nil, ErrNoteNotFound
	}
	return found, nil
}
