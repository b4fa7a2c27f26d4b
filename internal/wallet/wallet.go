// Package wallet stores the notes a client owns in pebble, keyed by commitment.
// Records carry the note secrets (amount, blinding) and the precomputed nullifier,
// never private keys: callers pass the owning keypair back in to rebuild notes.
package wallet

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"

	"shieldedpool/internal/shielded"
)

const noteKeyPrefix byte = 0x01

var ErrNotFound = errors.New("note not found")

// SpentChecker reports whether a nullifier has been published.
type SpentChecker interface {
	IsSpent(nullifier *big.Int) bool
}

type record struct {
	Owner     string `json:"owner"`
	Amount    string `json:"amount"`
	Blinding  string `json:"blinding"`
	Index     uint64 `json:"index"`
	Nullifier string `json:"nullifier"`
	Spent     bool   `json:"spent"`
}

// Wallet is a pebble-backed note store.
type Wallet struct {
	db     *pebble.DB
	hasher shielded.Hasher
}

// Open opens or creates a wallet at path.
func Open(path string, h shielded.Hasher) (*Wallet, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open wallet")
	}
	return &Wallet{db: db, hasher: h}, nil
}

// OpenInMemory opens a wallet that lives only as long as the process.
func OpenInMemory(h shielded.Hasher) (*Wallet, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory wallet")
	}
	return &Wallet{db: db, hasher: h}, nil
}

func (w *Wallet) Close() error {
	return w.db.Close()
}

func noteKey(commitment *big.Int) []byte {
	key := make([]byte, 33)
	key[0] = noteKeyPrefix
	commitment.FillBytes(key[1:])
	return key
}

// Put stores an owned note. It needs the note's tree index and private key.
func (w *Wallet) Put(u *shielded.Utxo) error {
	if u.Index == nil {
		return shielded.ErrNotInTree
	}
	nf, err := u.Nullifier()
	if err != nil {
		return err
	}
	rec := record{
		Owner:     u.Keypair.Address(),
		Amount:    u.Amount.String(),
		Blinding:  u.Blinding.String(),
		Index:     *u.Index,
		Nullifier: nf.String(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "put note")
	}
	return errors.Wrap(w.db.Set(noteKey(u.Commitment()), raw, &pebble.WriteOptions{Sync: true}), "put note")
}

func (w *Wallet) get(commitment *big.Int) (*record, error) {
	raw, closer, err := w.db.Get(noteKey(commitment))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get note")
	}
	defer closer.Close()
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "get note")
	}
	return &rec, nil
}

// MarkSpent flags the note with the given commitment as spent.
func (w *Wallet) MarkSpent(commitment *big.Int) error {
	rec, err := w.get(commitment)
	if err != nil {
		return err
	}
	rec.Spent = true
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "mark spent")
	}
	return errors.Wrap(w.db.Set(noteKey(commitment), raw, &pebble.WriteOptions{Sync: true}), "mark spent")
}

// each calls fn for every stored note in commitment order.
func (w *Wallet) each(fn func(key []byte, rec *record) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{noteKeyPrefix},
		UpperBound: []byte{noteKeyPrefix + 1},
	})
	if err != nil {
		return errors.Wrap(err, "iterate notes")
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return errors.Wrap(err, "iterate notes")
		}
		key := append([]byte(nil), iter.Key()...)
		if err := fn(key, &rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Unspent rebuilds the unspent notes owned by kp.
func (w *Wallet) Unspent(kp *shielded.Keypair) ([]*shielded.Utxo, error) {
	owner := kp.Address()
	var out []*shielded.Utxo
	err := w.each(func(_ []byte, rec *record) error {
		if rec.Spent || rec.Owner != owner {
			return nil
		}
		amount, ok := new(big.Int).SetString(rec.Amount, 10)
		if !ok {
			return errors.Errorf("stored amount %q", rec.Amount)
		}
		blinding, ok := new(big.Int).SetString(rec.Blinding, 10)
		if !ok {
			return errors.Errorf("stored blinding %q", rec.Blinding)
		}
		index := rec.Index
		u, err := shielded.NewUtxo(w.hasher, shielded.UtxoOptions{Amount: amount, Keypair: kp, Blinding: blinding, Index: &index})
		if err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

// Balance sums the unspent notes of kp.
func (w *Wallet) Balance(kp *shielded.Keypair) (*big.Int, error) {
	notes, err := w.Unspent(kp)
	if err != nil {
		return nil, err
	}
	sum := new(big.Int)
	for _, u := range notes {
		sum.Add(sum, u.Amount)
	}
	return sum, nil
}

// Reconcile marks every stored note whose nullifier the ledger has seen as spent and
// returns how many changed.
func (w *Wallet) Reconcile(ctx context.Context, ledger SpentChecker) (int, error) {
	batch := w.db.NewBatch()
	defer batch.Close()
	changed := 0
	err := w.each(func(key []byte, rec *record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Spent {
			return nil
		}
		nf, ok := new(big.Int).SetString(rec.Nullifier, 10)
		if !ok {
			return errors.Errorf("stored nullifier %q", rec.Nullifier)
		}
		if !ledger.IsSpent(nf) {
			return nil
		}
		rec.Spent = true
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		changed++
		return batch.Set(key, raw, nil)
	})
	if err != nil {
		return 0, errors.Wrap(err, "reconcile")
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, errors.Wrap(batch.Commit(&pebble.WriteOptions{Sync: true}), "reconcile")
}
