// ledger.go - In-memory reference of the shielded pool contract.
//
// The Pool keeps the commitment tree, a ring of recent roots, the nullifier set and
// token balances, verifies proofs through one verifier per input arity, and records the
// events a client needs to sync its tree and scan for notes. Every call either applies
// completely or leaves the state untouched.

package ledger

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/shielded"
	"shieldedpool/internal/transactions/register"
	"shieldedpool/internal/transactions/transact"
)

// RootHistorySize is the number of recent roots a proof may refer to.
const RootHistorySize = 100

var (
	ErrUnknownRoot         = errors.New("invalid merkle root")
	ErrNullifierSpent      = errors.New("input is already spent")
	ErrDuplicateNullifier  = errors.New("duplicate input nullifier")
	ErrIncorrectExtData    = errors.New("incorrect external data hash")
	ErrInvalidPublicAmount = errors.New("invalid public amount")
	ErrInvalidFee          = errors.New("invalid fee")
	ErrInvalidExtAmount    = errors.New("invalid ext amount")
	ErrUnsupportedInputs   = errors.New("unsupported input count")
	ErrInvalidProof        = errors.New("invalid transaction proof")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrMissingRecipient    = errors.New("can't withdraw to zero address")
	ErrOutputMismatch      = errors.New("one encrypted output per commitment is required")
	ErrNotOwner            = errors.New("only the owner can register")
)

// Verifier checks a transaction proof against its public signals.
type Verifier interface {
	Verify(args transact.Args) error
}

// Pool mirrors the pool contract.
type Pool struct {
	mu     sync.RWMutex
	params *shielded.Params
	log    zerolog.Logger

	verifiers map[int]Verifier // by number of inputs

	tree       *merkle.Accumulator
	roots      [RootHistorySize]*big.Int
	rootIndex  int
	nullifiers map[string]struct{}
	balances   map[common.Address]*big.Int
	held       *big.Int
	block      uint64

	commitmentEvents []CommitmentEvent
	nullifierEvents  []NullifierEvent
	publicKeys       []PublicKeyEvent
	accounts         []EncryptedAccountEvent
}

// New returns an empty pool. verifiers maps an input count to its verifier.
func New(params *shielded.Params, verifiers map[int]Verifier, log zerolog.Logger) (*Pool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		params:     params,
		log:        log.With().Str("component", "ledger").Logger(),
		verifiers:  make(map[int]Verifier, len(verifiers)),
		tree:       merkle.NewFromParams(params),
		nullifiers: make(map[string]struct{}),
		balances:   make(map[common.Address]*big.Int),
		held:       new(big.Int),
	}
	for n, v := range verifiers {
		p.verifiers[n] = v
	}
	p.roots[0] = p.tree.Root()
	return p, nil
}

// Mint credits amount tokens to addr.
func (p *Pool) Mint(addr common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credit(addr, amount)
}

func (p *Pool) credit(addr common.Address, amount *big.Int) {
	bal, ok := p.balances[addr]
	if !ok {
		bal = new(big.Int)
		p.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// BalanceOf returns the token balance of addr.
func (p *Pool) BalanceOf(addr common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if bal, ok := p.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Held returns the tokens locked in the pool.
func (p *Pool) Held() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.held)
}

// Root returns the latest root.
func (p *Pool) Root() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.roots[p.rootIndex])
}

// NextIndex is the tree index the next commitment will get.
func (p *Pool) NextIndex() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.Len()
}

// Block is the number of accepted calls so far.
func (p *Pool) Block() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.block
}

// IsKnownRoot reports whether root is one of the last RootHistorySize roots.
func (p *Pool) IsKnownRoot(root *big.Int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isKnownRootLocked(root)
}

func (p *Pool) isKnownRootLocked(root *big.Int) bool {
	if root == nil || root.Sign() == 0 {
		return false
	}
	for _, r := range p.roots {
		if r != nil && r.Cmp(root) == 0 {
			return true
		}
	}
	return false
}

// IsSpent reports whether a nullifier has been published.
func (p *Pool) IsSpent(nullifier *big.Int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.nullifiers[nullifier.String()]
	return ok
}

// Transact verifies and applies a transaction sent by sender.
func (p *Pool) Transact(ctx context.Context, sender common.Address, args transact.Args, ext transact.ExtData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(sender, args, ext); err != nil {
		return err
	}
	p.block++
	p.applyLocked(sender, args, ext)
	return nil
}

// RegisterAndTransact publishes the payload and applies the transaction, or neither.
func (p *Pool) RegisterAndTransact(ctx context.Context, sender common.Address, payload register.Payload, args transact.Args, ext transact.ExtData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if payload.Owner != sender {
		return ErrNotOwner
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(sender, args, ext); err != nil {
		return err
	}
	p.block++
	p.publicKeys = append(p.publicKeys, PublicKeyEvent{Owner: payload.Owner, Key: payload.PublicKey, Block: p.block})
	p.accounts = append(p.accounts, EncryptedAccountEvent{
		Owner:   payload.Owner,
		Account: append([]byte(nil), payload.EncryptedAccount...),
		Block:   p.block,
	})
	p.applyLocked(sender, args, ext)
	return nil
}

// checkLocked runs every contract check without mutating anything.
func (p *Pool) checkLocked(sender common.Address, args transact.Args, ext transact.ExtData) error {
	if !p.isKnownRootLocked(args.Root) {
		return ErrUnknownRoot
	}
	seen := make(map[string]struct{}, len(args.InputNullifiers))
	for _, nf := range args.InputNullifiers {
		if nf == nil {
			return ErrDuplicateNullifier
		}
		if _, spent := p.nullifiers[nf.String()]; spent {
			return ErrNullifierSpent
		}
		if _, dup := seen[nf.String()]; dup {
			return ErrDuplicateNullifier
		}
		seen[nf.String()] = struct{}{}
	}
	if len(ext.EncryptedOutputs) != len(args.OutputCommitments) {
		return ErrOutputMismatch
	}
	if ext.Fee == nil || ext.Fee.Sign() < 0 || ext.Fee.Cmp(p.params.MaxFee) >= 0 {
		return ErrInvalidFee
	}
	if ext.ExtAmount == nil || new(big.Int).Abs(ext.ExtAmount).Cmp(p.params.MaxExtAmount) >= 0 {
		return ErrInvalidExtAmount
	}
	hash, err := transact.HashExtData(ext)
	if err != nil || args.ExtDataHash == nil || hash.Cmp(args.ExtDataHash) != 0 {
		return ErrIncorrectExtData
	}
	if args.PublicAmount == nil || transact.CalculatePublicAmount(ext.ExtAmount, ext.Fee).Cmp(args.PublicAmount) != 0 {
		return ErrInvalidPublicAmount
	}
	verifier, ok := p.verifiers[len(args.InputNullifiers)]
	if !ok {
		return errors.Wrapf(ErrUnsupportedInputs, "%d inputs", len(args.InputNullifiers))
	}
	if err := verifier.Verify(args); err != nil {
		return errors.Wrap(ErrInvalidProof, err.Error())
	}
	if ext.ExtAmount.Sign() > 0 {
		bal, ok := p.balances[sender]
		if !ok || bal.Cmp(ext.ExtAmount) < 0 {
			return ErrInsufficientBalance
		}
	}
	if ext.ExtAmount.Sign() < 0 && ext.Recipient == (common.Address{}) {
		return ErrMissingRecipient
	}
	if p.tree.Len()+uint64(len(args.OutputCommitments)) > p.tree.Capacity() {
		return merkle.ErrTreeFull
	}
	return nil
}

// applyLocked moves tokens, spends nullifiers, inserts commitments and emits events.
func (p *Pool) applyLocked(sender common.Address, args transact.Args, ext transact.ExtData) {
	switch ext.ExtAmount.Sign() {
	case 1:
		p.credit(sender, new(big.Int).Neg(ext.ExtAmount))
		p.held.Add(p.held, ext.ExtAmount)
	case -1:
		out := new(big.Int).Neg(ext.ExtAmount)
		p.credit(ext.Recipient, out)
		p.held.Sub(p.held, out)
	}
	if ext.Fee.Sign() > 0 {
		p.credit(ext.Relayer, ext.Fee)
		p.held.Sub(p.held, ext.Fee)
	}

	for _, nf := range args.InputNullifiers {
		p.nullifiers[nf.String()] = struct{}{}
		p.nullifierEvents = append(p.nullifierEvents, NullifierEvent{Nullifier: new(big.Int).Set(nf), Block: p.block})
	}

	first := p.tree.Len()
	// capacity was checked in checkLocked
	_ = p.tree.BulkInsert(args.OutputCommitments)
	for i, cm := range args.OutputCommitments {
		p.commitmentEvents = append(p.commitmentEvents, CommitmentEvent{
			Commitment:      new(big.Int).Set(cm),
			Index:           first + uint64(i),
			EncryptedOutput: append([]byte(nil), ext.EncryptedOutputs[i]...),
			Block:           p.block,
		})
	}
	p.pushRoot(p.tree.Root())

	p.log.Info().
		Uint64("block", p.block).
		Int("inputs", len(args.InputNullifiers)).
		Uint64("next_index", p.tree.Len()).
		Str("ext_amount", ext.ExtAmount.String()).
		Msg("transaction accepted")
}

func (p *Pool) pushRoot(root *big.Int) {
	p.rootIndex = (p.rootIndex + 1) % RootHistorySize
	p.roots[p.rootIndex] = root
}

// CommitmentEvents returns commitment events from fromBlock on, in index order.
func (p *Pool) CommitmentEvents(fromBlock uint64) []CommitmentEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := sort.Search(len(p.commitmentEvents), func(i int) bool { return p.commitmentEvents[i].Block >= fromBlock })
	return append([]CommitmentEvent(nil), p.commitmentEvents[i:]...)
}

// Batches groups commitment events from fromBlock on by block.
func (p *Pool) Batches(fromBlock uint64) []shielded.Batch {
	var out []shielded.Batch
	for _, ev := range p.CommitmentEvents(fromBlock) {
		if len(out) == 0 || out[len(out)-1].Block != ev.Block {
			out = append(out, shielded.Batch{Block: ev.Block})
		}
		last := &out[len(out)-1]
		last.Candidates = append(last.Candidates, shielded.Candidate{
			Commitment:      ev.Commitment,
			Index:           ev.Index,
			EncryptedOutput: ev.EncryptedOutput,
		})
	}
	return out
}

// NullifierEvents returns every spent nullifier.
func (p *Pool) NullifierEvents() []NullifierEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]NullifierEvent(nil), p.nullifierEvents...)
}

// PublicKeyEvents returns the registrations of owner, oldest first.
func (p *Pool) PublicKeyEvents(owner common.Address) []PublicKeyEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublicKeyEvent
	for _, ev := range p.publicKeys {
		if ev.Owner == owner {
			out = append(out, ev)
		}
	}
	return out
}

// EncryptedAccountEvents returns the encrypted accounts of owner, oldest first.
func (p *Pool) EncryptedAccountEvents(owner common.Address) []EncryptedAccountEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []EncryptedAccountEvent
	for _, ev := range p.accounts {
		if ev.Owner == owner {
			out = append(out, ev)
		}
	}
	return out
}
