package transact

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"shieldedpool/internal/metrics"
	"shieldedpool/internal/shielded"
)

// Builder assembles transactions for a fixed set of tiers. It holds no mutable state
// and can be shared by concurrent callers as long as each passes its own tree snapshot.
type Builder struct {
	params *shielded.Params
	tiers  []Tier
	prover Prover
	log    zerolog.Logger
}

// NewBuilder returns a builder over DefaultTiers.
func NewBuilder(params *shielded.Params, prover Prover, log zerolog.Logger) *Builder {
	return &Builder{
		params: params,
		tiers:  DefaultTiers,
		prover: prover,
		log:    log.With().Str("component", "builder").Logger(),
	}
}

// WithTiers returns a copy of the builder using tiers.
func (b *Builder) WithTiers(tiers []Tier) *Builder {
	c := *b
	c.tiers = append([]Tier(nil), tiers...)
	return &c
}

// Tiers returns the configured tiers.
func (b *Builder) Tiers() []Tier {
	return append([]Tier(nil), b.tiers...)
}

type inputUnit struct {
	utxo      *shielded.Utxo
	nullifier *big.Int
	witness   InputWitness
}

type outputUnit struct {
	utxo       *shielded.Utxo
	commitment *big.Int
	ciphertext []byte
}

// Build validates req, derives every proof input against tree and calls the prover.
// Validation failures happen before any encryption or proving.
func (b *Builder) Build(ctx context.Context, tree Tree, req Request) (*Transaction, error) {
	tier, err := SelectTier(b.tiers, len(req.Inputs), len(req.Outputs))
	if err != nil {
		return nil, err
	}
	if tree.Height() != b.params.TreeHeight {
		return nil, errors.Wrapf(shielded.ErrInvalidParams, "tree height %d, expected %d", tree.Height(), b.params.TreeHeight)
	}

	inputs, outputs, err := b.pad(tier, req)
	if err != nil {
		return nil, err
	}
	extAmount, fee, err := b.checkAmounts(inputs, outputs, req)
	if err != nil {
		metrics.RecordBuild(tier.String(), "rejected")
		return nil, err
	}

	ins, err := b.deriveInputs(tree, inputs)
	if err != nil {
		metrics.RecordBuild(tier.String(), "rejected")
		return nil, err
	}
	outs, err := deriveOutputs(outputs)
	if err != nil {
		return nil, err
	}
	if err := shuffle(ins); err != nil {
		return nil, err
	}
	if err := shuffle(outs); err != nil {
		return nil, err
	}

	ext := ExtData{
		Recipient:        req.Recipient,
		ExtAmount:        extAmount,
		Relayer:          req.Relayer,
		Fee:              fee,
		EncryptedOutputs: make([][]byte, len(outs)),
	}
	for i, o := range outs {
		ext.EncryptedOutputs[i] = o.ciphertext
	}
	extDataHash, err := HashExtData(ext)
	if err != nil {
		return nil, err
	}

	w := &Witness{
		Tier:              tier,
		Root:              tree.Root(),
		PublicAmount:      CalculatePublicAmount(extAmount, fee),
		ExtDataHash:       extDataHash,
		InputNullifiers:   make([]*big.Int, len(ins)),
		OutputCommitments: make([]*big.Int, len(outs)),
		Inputs:            make([]InputWitness, len(ins)),
		Outputs:           make([]OutputWitness, len(outs)),
	}
	tx := &Transaction{
		Tier:    tier,
		ExtData: ext,
		Inputs:  make([]*shielded.Utxo, len(ins)),
		Outputs: make([]*shielded.Utxo, len(outs)),
	}
	for i, in := range ins {
		w.InputNullifiers[i] = in.nullifier
		w.Inputs[i] = in.witness
		tx.Inputs[i] = in.utxo
	}
	for i, o := range outs {
		w.OutputCommitments[i] = o.commitment
		w.Outputs[i] = OutputWitness{Amount: o.utxo.Amount, Blinding: o.utxo.Blinding, PublicKey: o.utxo.Keypair.PublicKey()}
		tx.Outputs[i] = o.utxo
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	proof, err := b.prover.Prove(ctx, w)
	if err != nil {
		metrics.RecordBuild(tier.String(), "prover_error")
		b.log.Warn().Err(err).Str("tier", tier.String()).Msg("prover failed")
		return nil, fmt.Errorf("%w: tier %s: %w", ErrProofGenerationFailed, tier, err)
	}
	metrics.RecordProof(tier.String(), time.Since(start))
	metrics.RecordBuild(tier.String(), "success")

	tx.Args = Args{
		Proof:             proof,
		Root:              w.Root,
		InputNullifiers:   w.InputNullifiers,
		OutputCommitments: w.OutputCommitments,
		PublicAmount:      w.PublicAmount,
		ExtDataHash:       w.ExtDataHash,
	}
	b.log.Debug().
		Str("tier", tier.String()).
		Int("inputs", len(req.Inputs)).
		Int("outputs", len(req.Outputs)).
		Str("root", w.Root.String()).
		Dur("prove", time.Since(start)).
		Msg("transaction built")
	return tx, nil
}

// pad fills inputs and outputs with zero-amount notes owned by fresh keypairs.
func (b *Builder) pad(tier Tier, req Request) ([]*shielded.Utxo, []*shielded.Utxo, error) {
	inputs := append(make([]*shielded.Utxo, 0, tier.Inputs), req.Inputs...)
	for len(inputs) < tier.Inputs {
		u, err := shielded.NewUtxo(b.params.Hasher, shielded.UtxoOptions{})
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, u)
	}
	outputs := append(make([]*shielded.Utxo, 0, tier.Outputs), req.Outputs...)
	for len(outputs) < tier.Outputs {
		u, err := shielded.NewUtxo(b.params.Hasher, shielded.UtxoOptions{})
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, u)
	}
	return inputs, outputs, nil
}

// checkAmounts enforces note ranges, fee and ext amount bounds and exact balance.
func (b *Builder) checkAmounts(inputs, outputs []*shielded.Utxo, req Request) (*big.Int, *big.Int, error) {
	sumIn, sumOut := new(big.Int), new(big.Int)
	for _, u := range inputs {
		if u == nil || u.Amount == nil {
			return nil, nil, errors.New("nil input note")
		}
		if u.Amount.Sign() < 0 || u.Amount.Cmp(shielded.MaxAmount) >= 0 {
			return nil, nil, errors.Wrapf(shielded.ErrAmountOutOfRange, "input amount %s", u.Amount)
		}
		sumIn.Add(sumIn, u.Amount)
	}
	for _, u := range outputs {
		if u == nil || u.Amount == nil {
			return nil, nil, errors.New("nil output note")
		}
		if u.Amount.Sign() < 0 || u.Amount.Cmp(shielded.MaxAmount) >= 0 {
			return nil, nil, errors.Wrapf(shielded.ErrAmountOutOfRange, "output amount %s", u.Amount)
		}
		sumOut.Add(sumOut, u.Amount)
	}

	fee := new(big.Int)
	if req.Fee != nil {
		fee.Set(req.Fee)
	}
	if fee.Sign() < 0 || fee.Cmp(b.params.MaxFee) >= 0 {
		return nil, nil, errors.Wrapf(ErrFeeOutOfRange, "fee %s", fee)
	}

	var extAmount *big.Int
	if req.ExtAmount != nil {
		extAmount = new(big.Int).Set(req.ExtAmount)
	} else {
		extAmount = new(big.Int).Add(fee, sumOut)
		extAmount.Sub(extAmount, sumIn)
	}
	if new(big.Int).Abs(extAmount).Cmp(b.params.MaxExtAmount) >= 0 {
		return nil, nil, errors.Wrapf(ErrExtAmountOutOfRange, "ext amount %s", extAmount)
	}
	if extAmount.Sign() < 0 && req.Recipient == (common.Address{}) {
		return nil, nil, errors.Wrapf(ErrMissingRecipient, "ext amount %s", extAmount)
	}

	lhs := new(big.Int).Add(sumIn, extAmount)
	rhs := new(big.Int).Add(sumOut, fee)
	if lhs.Cmp(rhs) != 0 {
		return nil, nil, errors.Wrapf(ErrUnbalancedTransaction, "inputs %s + ext %s != outputs %s + fee %s", sumIn, extAmount, sumOut, fee)
	}
	return extAmount, fee, nil
}

// deriveInputs checks each real input against the tree and computes its nullifier and path.
func (b *Builder) deriveInputs(tree Tree, inputs []*shielded.Utxo) ([]inputUnit, error) {
	units := make([]inputUnit, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for i, u := range inputs {
		sk, err := u.Keypair.PrivateKey()
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		index, err := u.SpendIndex()
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		elements := make([]*big.Int, tree.Height())
		for l := range elements {
			elements[l] = new(big.Int)
		}
		if u.Amount.Sign() > 0 {
			leaf, err := tree.Leaf(index)
			if err != nil {
				return nil, errors.Wrapf(err, "input %d", i)
			}
			if leaf.Cmp(u.Commitment()) != 0 {
				return nil, errors.Wrapf(shielded.ErrNotInTree, "input %d: commitment differs from leaf %d", i, index)
			}
			path, err := tree.Path(index)
			if err != nil {
				return nil, errors.Wrapf(err, "input %d", i)
			}
			elements = path.Siblings
		}
		nf, err := u.Nullifier()
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		if _, dup := seen[nf.String()]; dup {
			return nil, errors.Wrapf(ErrDuplicateInput, "input %d", i)
		}
		seen[nf.String()] = struct{}{}

		units[i] = inputUnit{
			utxo:      u,
			nullifier: nf,
			witness: InputWitness{
				Amount:       u.Amount,
				Blinding:     u.Blinding,
				PrivateKey:   sk,
				PathIndex:    index,
				PathElements: elements,
			},
		}
	}
	return units, nil
}

func deriveOutputs(outputs []*shielded.Utxo) ([]outputUnit, error) {
	units := make([]outputUnit, len(outputs))
	for i, u := range outputs {
		ct, err := u.Encrypt()
		if err != nil {
			return nil, errors.Wrapf(err, "encrypt output %d", i)
		}
		units[i] = outputUnit{utxo: u, commitment: u.Commitment(), ciphertext: ct}
	}
	return units, nil
}
