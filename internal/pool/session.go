// Package pool drives a shielded pool from the client side: it keeps a local copy of
// the commitment tree in step with the ledger, builds and proves transactions against
// snapshots of it, submits them and scans published batches for owned notes.
package pool

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"shieldedpool/internal/ledger"
	"shieldedpool/internal/merkle"
	"shieldedpool/internal/metrics"
	"shieldedpool/internal/shielded"
	"shieldedpool/internal/transactions/register"
	"shieldedpool/internal/transactions/transact"
	"shieldedpool/internal/transactions/withdraw"
)

var (
	// ErrStaleTree is returned when the local tree is behind the ledger. Call Sync.
	ErrStaleTree = errors.New("local commitment tree is stale")
	// ErrUnknownRoot is returned when the ledger no longer accepts the root a proof was built on.
	ErrUnknownRoot = errors.New("root is not known to the ledger")
	// ErrNoAccount is returned when an owner has never registered.
	ErrNoAccount = errors.New("no encrypted account registered")
	// ErrNotSynced is returned together with the transaction when the ledger accepted
	// it but the local tree could not follow. The transaction is final; call Sync.
	ErrNotSynced = errors.New("transaction accepted but local tree not synced")
)

// Ledger is the pool contract as seen by a client.
type Ledger interface {
	Transact(ctx context.Context, sender common.Address, args transact.Args, ext transact.ExtData) error
	RegisterAndTransact(ctx context.Context, sender common.Address, payload register.Payload, args transact.Args, ext transact.ExtData) error
	Root() *big.Int
	NextIndex() uint64
	IsKnownRoot(root *big.Int) bool
	IsSpent(nullifier *big.Int) bool
	CommitmentEvents(fromBlock uint64) []ledger.CommitmentEvent
	Batches(fromBlock uint64) []shielded.Batch
	PublicKeyEvents(owner common.Address) []ledger.PublicKeyEvent
	EncryptedAccountEvents(owner common.Address) []ledger.EncryptedAccountEvent
}

// DefaultScanCacheSize bounds the remembered (keypair, block) scan results.
const DefaultScanCacheSize = 4096

type scanKey struct {
	address string
	block   uint64
}

// Session is one client of one ledger, acting as sender.
type Session struct {
	params  *shielded.Params
	builder *transact.Builder
	ledger  Ledger
	sender  common.Address
	log     zerolog.Logger

	syncMu sync.Mutex
	tree   *merkle.Accumulator

	scanned *lru.Cache[scanKey, *shielded.Utxo]
}

// NewSession returns a session with an empty tree. Call Sync before transacting
// against a ledger that already has commitments.
func NewSession(params *shielded.Params, builder *transact.Builder, l Ledger, sender common.Address, cacheSize int, log zerolog.Logger) (*Session, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultScanCacheSize
	}
	cache, err := lru.New[scanKey, *shielded.Utxo](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "scan cache")
	}
	return &Session{
		params:  params,
		builder: builder,
		ledger:  l,
		sender:  sender,
		log:     log.With().Str("component", "session").Str("sender", sender.Hex()).Logger(),
		tree:    merkle.NewFromParams(params),
		scanned: cache,
	}, nil
}

// Sender is the ledger account the session transacts as.
func (s *Session) Sender() common.Address {
	return s.sender
}

// Tree returns a snapshot of the local tree.
func (s *Session) Tree() *merkle.Accumulator {
	return s.tree.Snapshot()
}

// Sync appends the commitments the ledger published since the last sync.
func (s *Session) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	next := s.tree.Len()
	var leaves []*big.Int
	for _, ev := range s.ledger.CommitmentEvents(0) {
		if ev.Index < next {
			continue
		}
		if ev.Index != next+uint64(len(leaves)) {
			return errors.Errorf("commitment event %d out of order, expected %d", ev.Index, next+uint64(len(leaves)))
		}
		leaves = append(leaves, ev.Commitment)
	}
	if len(leaves) == 0 {
		return nil
	}
	if err := s.tree.BulkInsert(leaves); err != nil {
		return err
	}
	if root := s.tree.Root(); !s.ledger.IsKnownRoot(root) {
		return errors.Wrapf(ErrUnknownRoot, "rebuilt root %s", root)
	}
	metrics.SetTreeLeaves(s.tree.Len())
	s.log.Debug().Uint64("leaves", s.tree.Len()).Int("appended", len(leaves)).Msg("tree synced")
	return nil
}

func (s *Session) checkFresh() error {
	if local, remote := s.tree.Len(), s.ledger.NextIndex(); local != remote {
		return errors.Wrapf(ErrStaleTree, "local %d leaves, ledger %d", local, remote)
	}
	return nil
}

// prepare builds and proves req on a snapshot of a fresh tree.
func (s *Session) prepare(ctx context.Context, req transact.Request) (*transact.Transaction, error) {
	if err := s.checkFresh(); err != nil {
		return nil, err
	}
	tx, err := s.builder.Build(ctx, s.tree.Snapshot(), req)
	if err != nil {
		return nil, err
	}
	if !s.ledger.IsKnownRoot(tx.Args.Root) {
		return nil, errors.Wrapf(ErrUnknownRoot, "root %s", tx.Args.Root)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tx, nil
}

// settle syncs after an accepted submission and gives the outputs their indexes.
// Once the ledger has accepted, cancellation of ctx no longer applies.
func (s *Session) settle(ctx context.Context, tx *transact.Transaction, submitErr error) error {
	if submitErr != nil {
		metrics.RecordSubmission("rejected")
		s.log.Warn().Err(submitErr).Str("tier", tx.Tier.String()).Msg("transaction rejected")
		return errors.Wrap(submitErr, "submit transaction")
	}
	metrics.RecordSubmission("accepted")
	if err := s.Sync(context.WithoutCancel(ctx)); err != nil {
		s.log.Error().Err(err).Str("tier", tx.Tier.String()).Msg("accepted transaction not synced")
		return errors.Wrap(ErrNotSynced, err.Error())
	}
	for _, out := range tx.Outputs {
		if idx, ok := s.tree.IndexOf(out.Commitment()); ok {
			out.Index = &idx
		}
	}
	s.log.Info().
		Str("tier", tx.Tier.String()).
		Str("ext_amount", tx.ExtData.ExtAmount.String()).
		Uint64("next_index", s.tree.Len()).
		Msg("transaction submitted")
	return nil
}

func (s *Session) finish(ctx context.Context, tx *transact.Transaction, submitErr error) (*transact.Transaction, error) {
	err := s.settle(ctx, tx, submitErr)
	switch {
	case err == nil:
		return tx, nil
	case errors.Is(err, ErrNotSynced):
		return tx, err
	default:
		return nil, err
	}
}

// Transact builds, proves and submits req. Outputs of the returned transaction carry
// their tree indexes. With ErrNotSynced the transaction is returned as well.
func (s *Session) Transact(ctx context.Context, req transact.Request) (*transact.Transaction, error) {
	tx, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, tx, s.ledger.Transact(ctx, s.sender, tx.Args, tx.ExtData))
}

// RegisterAndTransact publishes payload together with req.
func (s *Session) RegisterAndTransact(ctx context.Context, payload *register.Payload, req transact.Request) (*transact.Transaction, error) {
	if payload == nil {
		return nil, errors.New("register payload is required")
	}
	tx, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, tx, s.ledger.RegisterAndTransact(ctx, s.sender, *payload, tx.Args, tx.ExtData))
}

// Deposit moves the sum of outputs from the sender's balance into the pool.
func (s *Session) Deposit(ctx context.Context, outputs ...*shielded.Utxo) (*transact.Transaction, error) {
	return s.Transact(ctx, transact.Request{Outputs: outputs})
}

// Transfer spends inputs into outputs inside the pool. Values must balance exactly.
func (s *Session) Transfer(ctx context.Context, inputs, outputs []*shielded.Utxo) (*transact.Transaction, error) {
	return s.Transact(ctx, transact.Request{Inputs: inputs, Outputs: outputs, ExtAmount: new(big.Int)})
}

// Withdraw sends r.Amount to r.Recipient and returns the change note with its index.
// Like Transact it returns the transaction alongside ErrNotSynced.
func (s *Session) Withdraw(ctx context.Context, r withdraw.Request) (*transact.Transaction, *shielded.Utxo, error) {
	req, change, err := r.Build(s.params.Hasher)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.Transact(ctx, req)
	if tx == nil {
		return nil, nil, err
	}
	return tx, change, err
}

// RecoverAccount rebuilds the deposit keypair owner registered, using backup.
func (s *Session) RecoverAccount(ctx context.Context, owner common.Address, backup *shielded.Keypair) (*shielded.Keypair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accounts := s.ledger.EncryptedAccountEvents(owner)
	if len(accounts) == 0 {
		return nil, errors.Wrapf(ErrNoAccount, "owner %s", owner.Hex())
	}
	kp, err := register.Recover(s.params.Hasher, backup, accounts[len(accounts)-1].Account)
	if err != nil {
		return nil, err
	}
	if keys := s.ledger.PublicKeyEvents(owner); len(keys) > 0 {
		if err := register.VerifyRecovered(kp, keys[len(keys)-1].Key); err != nil {
			return nil, err
		}
	}
	return kp, nil
}
