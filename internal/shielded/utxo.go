package shielded

import (
	"math/big"

	"github.com/pkg/errors"
)

// notePlaintextSize is amount(31) || blinding(31).
const notePlaintextSize = 2 * blindingSize

// Utxo is a note: an amount owned by a keypair, hidden behind a blinded commitment.
// Index is nil until the commitment has been inserted in the tree.
type Utxo struct {
	Amount   *big.Int
	Blinding *big.Int
	Keypair  *Keypair
	Index    *uint64

	hasher Hasher
}

// UtxoOptions are the optional fields of NewUtxo. Zero values mean: amount 0,
// a fresh keypair, a fresh blinding, no index.
type UtxoOptions struct {
	Amount   *big.Int
	Keypair  *Keypair
	Blinding *big.Int
	Index    *uint64
}

// NewUtxo builds a note. The blinding is sampled fresh unless supplied, which only
// decryption should do.
func NewUtxo(h Hasher, opts UtxoOptions) (*Utxo, error) {
	amount := big.NewInt(0)
	if opts.Amount != nil {
		amount = new(big.Int).Set(opts.Amount)
	}
	if amount.Sign() < 0 || amount.Cmp(MaxAmount) >= 0 {
		return nil, errors.Wrapf(ErrAmountOutOfRange, "amount %s", amount)
	}

	kp := opts.Keypair
	if kp == nil {
		var err error
		if kp, err = NewKeypair(h); err != nil {
			return nil, err
		}
	}

	var blinding *big.Int
	if opts.Blinding != nil {
		if opts.Blinding.Sign() < 0 || opts.Blinding.Cmp(FieldSize) >= 0 {
			return nil, errors.New("blinding is not a field element")
		}
		blinding = new(big.Int).Set(opts.Blinding)
	} else {
		var err error
		if blinding, err = randomBlinding(); err != nil {
			return nil, err
		}
	}

	u := &Utxo{Amount: amount, Blinding: blinding, Keypair: kp, hasher: h}
	if opts.Index != nil {
		idx := *opts.Index
		u.Index = &idx
	}
	return u, nil
}

// Hasher returns the hash the note was built with.
func (u *Utxo) Hasher() Hasher {
	return u.hasher
}

// Commitment returns Hash(amount, publicKey, blinding).
func (u *Utxo) Commitment() *big.Int {
	return u.hasher.Hash(u.Amount, u.Keypair.publicKey, u.Blinding)
}

// SpendIndex is the tree position used for the nullifier. Zero-amount notes that were
// never inserted use position 0; the circuit skips their membership check.
func (u *Utxo) SpendIndex() (uint64, error) {
	if u.Index != nil {
		return *u.Index, nil
	}
	if u.Amount.Sign() == 0 {
		return 0, nil
	}
	return 0, ErrNotInTree
}

// Nullifier returns Hash(commitment, index, Sign(commitment, index)).
func (u *Utxo) Nullifier() (*big.Int, error) {
	index, err := u.SpendIndex()
	if err != nil {
		return nil, err
	}
	if !u.Keypair.HasPrivateKey() {
		return nil, ErrMissingPrivateKey
	}
	cm := u.Commitment()
	sig, err := u.Keypair.Sign(cm, index)
	if err != nil {
		return nil, err
	}
	return u.hasher.Hash(cm, new(big.Int).SetUint64(index), sig), nil
}

// Encrypt seals amount || blinding for the owner of the note.
func (u *Utxo) Encrypt() ([]byte, error) {
	plaintext := make([]byte, 0, notePlaintextSize)
	plaintext = append(plaintext, toFixedBytes(u.Amount, blindingSize)...)
	plaintext = append(plaintext, toFixedBytes(u.Blinding, blindingSize)...)
	return u.Keypair.Encrypt(plaintext)
}

// DecryptUtxo recovers a note published at index from its ciphertext.
func DecryptUtxo(kp *Keypair, ciphertext []byte, index uint64) (*Utxo, error) {
	plaintext, err := kp.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != notePlaintextSize {
		return nil, opaque(ErrCorruptedNote)
	}
	return NewUtxo(kp.hasher, UtxoOptions{
		Amount:   new(big.Int).SetBytes(plaintext[:blindingSize]),
		Blinding: new(big.Int).SetBytes(plaintext[blindingSize:]),
		Keypair:  kp,
		Index:    &index,
	})
}

// DecryptCandidate decrypts a published output and checks it against its commitment.
func DecryptCandidate(kp *Keypair, c Candidate) (*Utxo, error) {
	u, err := DecryptUtxo(kp, c.EncryptedOutput, c.Index)
	if err != nil {
		return nil, err
	}
	if c.Commitment == nil || u.Commitment().Cmp(c.Commitment) != 0 {
		return nil, opaque(ErrCorruptedNote)
	}
	return u, nil
}
