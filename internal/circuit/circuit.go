package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"shieldedpool/internal/transactions/transact"
)

// amountBits bounds output amounts; notes serialize amounts in 31 bytes.
const amountBits = 248

// Transaction proves a pool transaction of fixed arity over a tree of fixed height.
//
// For every input it derives the public key, commitment, signature and nullifier from
// the private key and checks membership under Root unless the amount is zero. For every
// output it checks the commitment and a 248-bit range. Nullifiers are pairwise distinct
// and sum(in) + PublicAmount == sum(out) in the field.
type Transaction struct {
	// ====== PUBLIC VARIABLES ======
	Root             frontend.Variable   `gnark:",public"`
	PublicAmount     frontend.Variable   `gnark:",public"`
	ExtDataHash      frontend.Variable   `gnark:",public"`
	InputNullifier   []frontend.Variable `gnark:",public"`
	OutputCommitment []frontend.Variable `gnark:",public"`

	// ====== PRIVATE VARIABLES ======
	InAmount       []frontend.Variable
	InPrivateKey   []frontend.Variable
	InBlinding     []frontend.Variable
	InPathIndices  []frontend.Variable
	InPathElements [][]frontend.Variable

	OutAmount   []frontend.Variable
	OutPubkey   []frontend.Variable
	OutBlinding []frontend.Variable
}

// New allocates an empty circuit of the given shape.
func New(levels int, tier transact.Tier) *Transaction {
	c := &Transaction{
		InputNullifier:   make([]frontend.Variable, tier.Inputs),
		OutputCommitment: make([]frontend.Variable, tier.Outputs),
		InAmount:         make([]frontend.Variable, tier.Inputs),
		InPrivateKey:     make([]frontend.Variable, tier.Inputs),
		InBlinding:       make([]frontend.Variable, tier.Inputs),
		InPathIndices:    make([]frontend.Variable, tier.Inputs),
		InPathElements:   make([][]frontend.Variable, tier.Inputs),
		OutAmount:        make([]frontend.Variable, tier.Outputs),
		OutPubkey:        make([]frontend.Variable, tier.Outputs),
		OutBlinding:      make([]frontend.Variable, tier.Outputs),
	}
	for i := range c.InPathElements {
		c.InPathElements[i] = make([]frontend.Variable, levels)
	}
	return c
}

// Assign fills a circuit assignment from a builder witness.
func Assign(levels int, w *transact.Witness) *Transaction {
	c := New(levels, w.Tier)
	c.Root = w.Root
	c.PublicAmount = w.PublicAmount
	c.ExtDataHash = w.ExtDataHash
	for i, in := range w.Inputs {
		c.InputNullifier[i] = w.InputNullifiers[i]
		c.InAmount[i] = in.Amount
		c.InPrivateKey[i] = in.PrivateKey
		c.InBlinding[i] = in.Blinding
		c.InPathIndices[i] = in.PathIndex
		for l := 0; l < levels; l++ {
			c.InPathElements[i][l] = in.PathElements[l]
		}
	}
	for j, out := range w.Outputs {
		c.OutputCommitment[j] = w.OutputCommitments[j]
		c.OutAmount[j] = out.Amount
		c.OutPubkey[j] = out.PublicKey
		c.OutBlinding[j] = out.Blinding
	}
	return c
}

// AssignPublic fills only the public part, for verification.
func AssignPublic(levels int, tier transact.Tier, args transact.Args) *Transaction {
	c := New(levels, tier)
	c.Root = args.Root
	c.PublicAmount = args.PublicAmount
	c.ExtDataHash = args.ExtDataHash
	for i, nf := range args.InputNullifiers {
		c.InputNullifier[i] = nf
	}
	for j, cm := range args.OutputCommitments {
		c.OutputCommitment[j] = cm
	}
	return c
}

func (c *Transaction) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hash := func(in ...frontend.Variable) frontend.Variable {
		h.Reset()
		h.Write(in...)
		return h.Sum()
	}

	sumIns := frontend.Variable(0)
	for i := range c.InAmount {
		pub := hash(c.InPrivateKey[i])
		cm := hash(c.InAmount[i], pub, c.InBlinding[i])
		sig := hash(c.InPrivateKey[i], cm, c.InPathIndices[i])
		nf := hash(cm, c.InPathIndices[i], sig)
		api.AssertIsEqual(c.InputNullifier[i], nf)

		// bit l of the index set means the current node is the right child
		bits := api.ToBinary(c.InPathIndices[i], len(c.InPathElements[i]))
		cur := cm
		for l, sib := range c.InPathElements[i] {
			left := api.Select(bits[l], sib, cur)
			right := api.Select(bits[l], cur, sib)
			cur = hash(left, right)
		}
		// zero-amount inputs are padding and skip the membership check
		api.AssertIsEqual(api.Mul(api.Sub(cur, c.Root), c.InAmount[i]), 0)

		sumIns = api.Add(sumIns, c.InAmount[i])
	}

	sumOuts := frontend.Variable(0)
	for j := range c.OutAmount {
		cm := hash(c.OutAmount[j], c.OutPubkey[j], c.OutBlinding[j])
		api.AssertIsEqual(c.OutputCommitment[j], cm)
		api.ToBinary(c.OutAmount[j], amountBits)
		sumOuts = api.Add(sumOuts, c.OutAmount[j])
	}

	for i := 0; i < len(c.InputNullifier); i++ {
		for j := i + 1; j < len(c.InputNullifier); j++ {
			api.AssertIsDifferent(c.InputNullifier[i], c.InputNullifier[j])
		}
	}

	api.AssertIsEqual(api.Add(sumIns, c.PublicAmount), sumOuts)

	// bind the ext data hash into the constraint system
	api.Mul(c.ExtDataHash, c.ExtDataHash)
	return nil
}
