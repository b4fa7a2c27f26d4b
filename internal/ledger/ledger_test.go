package ledger

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/shielded"
	"shieldedpool/internal/transactions/register"
	"shieldedpool/internal/transactions/transact"
)

var (
	alice     = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	recipient = common.HexToAddress("0x0000000000000000000000000000000000000def")
	relayer   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

type fakeVerifier struct{ err error }

func (f fakeVerifier) Verify(transact.Args) error { return f.err }

type nopProver struct{}

func (nopProver) Prove(context.Context, *transact.Witness) ([]byte, error) { return []byte{1}, nil }

type fixture struct {
	params  *shielded.Params
	pool    *Pool
	builder *transact.Builder
	kp      *shielded.Keypair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params := shielded.DefaultParams()
	pool, err := New(params, map[int]Verifier{2: fakeVerifier{}, 16: fakeVerifier{}}, zerolog.Nop())
	require.NoError(t, err)
	kp, err := shielded.NewKeypair(params.Hasher)
	require.NoError(t, err)
	return &fixture{
		params:  params,
		pool:    pool,
		builder: transact.NewBuilder(params, nopProver{}, zerolog.Nop()),
		kp:      kp,
	}
}

// tree rebuilds the client view from the commitment events.
func (f *fixture) tree(t *testing.T) *merkle.Accumulator {
	t.Helper()
	var leaves []*big.Int
	for _, ev := range f.pool.CommitmentEvents(0) {
		leaves = append(leaves, ev.Commitment)
	}
	tree, err := merkle.FromLeaves(f.params.Hasher, f.params.TreeHeight, f.params.ZeroValue, leaves)
	require.NoError(t, err)
	return tree
}

func (f *fixture) build(t *testing.T, req transact.Request) *transact.Transaction {
	t.Helper()
	tx, err := f.builder.Build(context.Background(), f.tree(t), req)
	require.NoError(t, err)
	return tx
}

func (f *fixture) deposit(t *testing.T, amount int64) *shielded.Utxo {
	t.Helper()
	f.pool.Mint(alice, big.NewInt(amount))
	out, err := shielded.NewUtxo(f.params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(amount), Keypair: f.kp})
	require.NoError(t, err)
	tx := f.build(t, transact.Request{Outputs: []*shielded.Utxo{out}})
	require.NoError(t, f.pool.Transact(context.Background(), alice, tx.Args, tx.ExtData))
	for _, ev := range f.pool.CommitmentEvents(f.pool.Block()) {
		if ev.Commitment.Cmp(out.Commitment()) == 0 {
			idx := ev.Index
			out.Index = &idx
		}
	}
	require.NotNil(t, out.Index)
	return out
}

func TestDepositMovesTokensAndEmitsEvents(t *testing.T) {
	f := newFixture(t)
	emptyRoot := f.pool.Root()
	f.deposit(t, 10_000_000)

	assert.Equal(t, 0, f.pool.BalanceOf(alice).Sign())
	assert.Equal(t, "10000000", f.pool.Held().String())
	assert.Equal(t, uint64(2), f.pool.NextIndex())
	assert.Equal(t, uint64(1), f.pool.Block())
	assert.True(t, f.pool.IsKnownRoot(emptyRoot))
	assert.True(t, f.pool.IsKnownRoot(f.pool.Root()))
	assert.Equal(t, 0, f.tree(t).Root().Cmp(f.pool.Root()))

	batches := f.pool.Batches(0)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Candidates, 2)
	got, err := shielded.ScanBatch(f.kp, batches[0])
	require.NoError(t, err)
	assert.Equal(t, "10000000", got.Amount.String())
	assert.Len(t, f.pool.NullifierEvents(), 2)
}

func TestDepositNeedsBalance(t *testing.T) {
	f := newFixture(t)
	out, err := shielded.NewUtxo(f.params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(5), Keypair: f.kp})
	require.NoError(t, err)
	tx := f.build(t, transact.Request{Outputs: []*shielded.Utxo{out}})
	err = f.pool.Transact(context.Background(), alice, tx.Args, tx.ExtData)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(0), f.pool.NextIndex())
}

func TestWithdrawPaysRecipientAndRelayer(t *testing.T) {
	f := newFixture(t)
	note := f.deposit(t, 3_000_000)
	change, err := shielded.NewUtxo(f.params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(900_000), Keypair: f.kp})
	require.NoError(t, err)

	tx := f.build(t, transact.Request{
		Inputs:    []*shielded.Utxo{note},
		Outputs:   []*shielded.Utxo{change},
		ExtAmount: big.NewInt(-2_000_000),
		Fee:       big.NewInt(100_000),
		Recipient: recipient,
		Relayer:   relayer,
	})
	require.NoError(t, f.pool.Transact(context.Background(), alice, tx.Args, tx.ExtData))
	assert.Equal(t, "2000000", f.pool.BalanceOf(recipient).String())
	assert.Equal(t, "100000", f.pool.BalanceOf(relayer).String())
	assert.Equal(t, "900000", f.pool.Held().String())

	nf, err := note.Nullifier()
	require.NoError(t, err)
	assert.True(t, f.pool.IsSpent(nf))

	// replay is a double spend
	err = f.pool.Transact(context.Background(), alice, tx.Args, tx.ExtData)
	assert.ErrorIs(t, err, ErrNullifierSpent)
}

func TestTransactRejections(t *testing.T) {
	f := newFixture(t)
	f.pool.Mint(alice, big.NewInt(100))
	out, err := shielded.NewUtxo(f.params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(10), Keypair: f.kp})
	require.NoError(t, err)
	tx := f.build(t, transact.Request{Outputs: []*shielded.Utxo{out}})

	cases := []struct {
		name   string
		mutate func(a *transact.Args, e *transact.ExtData)
		want   error
	}{
		{"unknown root", func(a *transact.Args, _ *transact.ExtData) { a.Root = big.NewInt(1) }, ErrUnknownRoot},
		{"duplicate nullifier", func(a *transact.Args, _ *transact.ExtData) {
			a.InputNullifiers = []*big.Int{a.InputNullifiers[0], a.InputNullifiers[0]}
		}, ErrDuplicateNullifier},
		{"ext data", func(_ *transact.Args, e *transact.ExtData) { e.Recipient = recipient }, ErrIncorrectExtData},
		{"public amount", func(a *transact.Args, _ *transact.ExtData) { a.PublicAmount = big.NewInt(11) }, ErrInvalidPublicAmount},
		{"fee", func(_ *transact.Args, e *transact.ExtData) { e.Fee = new(big.Int).Set(f.params.MaxFee) }, ErrInvalidFee},
		{"ext amount", func(_ *transact.Args, e *transact.ExtData) { e.ExtAmount = new(big.Int).Set(f.params.MaxExtAmount) }, ErrInvalidExtAmount},
		{"outputs", func(_ *transact.Args, e *transact.ExtData) { e.EncryptedOutputs = e.EncryptedOutputs[:1] }, ErrOutputMismatch},
		{"arity", func(a *transact.Args, _ *transact.ExtData) {
			a.InputNullifiers = append(a.InputNullifiers, big.NewInt(99))
		}, ErrUnsupportedInputs},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := tx.Args
			args.InputNullifiers = append([]*big.Int(nil), tx.Args.InputNullifiers...)
			ext := tx.ExtData
			ext.EncryptedOutputs = append([][]byte(nil), tx.ExtData.EncryptedOutputs...)
			tc.mutate(&args, &ext)
			err := f.pool.Transact(context.Background(), alice, args, ext)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, uint64(0), f.pool.NextIndex())
	assert.Equal(t, "100", f.pool.BalanceOf(alice).String())
}

func TestProofRejected(t *testing.T) {
	f := newFixture(t)
	pool, err := New(f.params, map[int]Verifier{2: fakeVerifier{err: errors.New("pairing check failed")}}, zerolog.Nop())
	require.NoError(t, err)
	f.pool = pool
	f.pool.Mint(alice, big.NewInt(1))
	out, err := shielded.NewUtxo(f.params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(1), Keypair: f.kp})
	require.NoError(t, err)
	tx := f.build(t, transact.Request{Outputs: []*shielded.Utxo{out}})
	assert.ErrorIs(t, f.pool.Transact(context.Background(), alice, tx.Args, tx.ExtData), ErrInvalidProof)
}

func TestWithdrawNeedsRecipient(t *testing.T) {
	f := newFixture(t)
	note := f.deposit(t, 10)
	tx := f.build(t, transact.Request{Inputs: []*shielded.Utxo{note}, ExtAmount: big.NewInt(-10), Recipient: recipient})

	// the builder refuses this, so forge it after the fact
	tx.ExtData.Recipient = common.Address{}
	hash, err := transact.HashExtData(tx.ExtData)
	require.NoError(t, err)
	tx.Args.ExtDataHash = hash
	assert.ErrorIs(t, f.pool.Transact(context.Background(), alice, tx.Args, tx.ExtData), ErrMissingRecipient)
}

func TestRootHistoryExpires(t *testing.T) {
	f := newFixture(t)
	initial := f.pool.Root()
	for i := 0; i < RootHistorySize-1; i++ {
		f.pool.pushRoot(big.NewInt(int64(i + 1)))
	}
	assert.True(t, f.pool.IsKnownRoot(initial))
	f.pool.pushRoot(big.NewInt(1000))
	assert.False(t, f.pool.IsKnownRoot(initial))
	assert.False(t, f.pool.IsKnownRoot(big.NewInt(0)))
}

func TestRegisterAndTransact(t *testing.T) {
	f := newFixture(t)
	backup, err := shielded.NewKeypair(f.params.Hasher)
	require.NoError(t, err)
	payload, err := register.NewPayload(alice, f.kp, backup)
	require.NoError(t, err)

	f.pool.Mint(alice, big.NewInt(50))
	out, err := shielded.NewUtxo(f.params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(50), Keypair: f.kp})
	require.NoError(t, err)
	tx := f.build(t, transact.Request{Outputs: []*shielded.Utxo{out}})

	err = f.pool.RegisterAndTransact(context.Background(), recipient, *payload, tx.Args, tx.ExtData)
	assert.ErrorIs(t, err, ErrNotOwner)

	bad := tx.Args
	bad.Root = big.NewInt(3)
	err = f.pool.RegisterAndTransact(context.Background(), alice, *payload, bad, tx.ExtData)
	assert.ErrorIs(t, err, ErrUnknownRoot)
	assert.Empty(t, f.pool.PublicKeyEvents(alice))

	require.NoError(t, f.pool.RegisterAndTransact(context.Background(), alice, *payload, tx.Args, tx.ExtData))
	keys := f.pool.PublicKeyEvents(alice)
	require.Len(t, keys, 1)
	assert.Equal(t, f.kp.Address(), keys[0].Key)
	accounts := f.pool.EncryptedAccountEvents(alice)
	require.Len(t, accounts, 1)

	recovered, err := register.Recover(f.params.Hasher, backup, accounts[0].Account)
	require.NoError(t, err)
	assert.Equal(t, f.kp.Address(), recovered.Address())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := newFixture(t)
	note := f.deposit(t, 700)
	firstRoot := f.pool.Root()
	f.deposit(t, 300)
	out, err := shielded.NewUtxo(f.params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(200), Keypair: f.kp})
	require.NoError(t, err)
	tx := f.build(t, transact.Request{
		Inputs: []*shielded.Utxo{note}, Outputs: []*shielded.Utxo{out},
		ExtAmount: big.NewInt(-500), Recipient: recipient,
	})
	require.NoError(t, f.pool.Transact(context.Background(), alice, tx.Args, tx.ExtData))

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, f.pool.SaveToFile(path))

	loaded, err := LoadFromFile(path, f.params, map[int]Verifier{2: fakeVerifier{}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, f.pool.Root().Cmp(loaded.Root()))
	assert.True(t, loaded.IsKnownRoot(firstRoot))
	assert.Equal(t, f.pool.NextIndex(), loaded.NextIndex())
	assert.Equal(t, f.pool.Block(), loaded.Block())
	assert.Equal(t, "500", loaded.BalanceOf(recipient).String())
	assert.Equal(t, f.pool.Held().String(), loaded.Held().String())

	nf, err := note.Nullifier()
	require.NoError(t, err)
	assert.True(t, loaded.IsSpent(nf))
	assert.Equal(t, len(f.pool.Batches(0)), len(loaded.Batches(0)))
}
