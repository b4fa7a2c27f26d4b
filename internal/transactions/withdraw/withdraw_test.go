package withdraw

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/shielded"
)

var recipient = common.HexToAddress("0xDeaDbeefdEAdbeefdEadbEEFdeadbeEFdEaDbeeF")

func note(t *testing.T, kp *shielded.Keypair, amount int64) *shielded.Utxo {
	t.Helper()
	u, err := shielded.NewUtxo(shielded.MiMC{}, shielded.UtxoOptions{Amount: big.NewInt(amount), Keypair: kp})
	require.NoError(t, err)
	return u
}

func TestBuildWithChange(t *testing.T) {
	kp, err := shielded.NewKeypair(shielded.MiMC{})
	require.NoError(t, err)
	in := note(t, kp, 3_000_000)

	req, change, err := Request{
		Inputs:    []*shielded.Utxo{in},
		Amount:    big.NewInt(2_000_000),
		Recipient: recipient,
	}.Build(shielded.MiMC{})
	require.NoError(t, err)

	assert.Equal(t, "1000000", change.Amount.String())
	assert.Same(t, kp, change.Keypair)
	assert.Equal(t, "-2000000", req.ExtAmount.String())
	assert.Equal(t, 0, req.Fee.Sign())
	assert.Equal(t, recipient, req.Recipient)
	require.Len(t, req.Outputs, 1)
	assert.Same(t, change, req.Outputs[0])

	// value is conserved
	lhs := new(big.Int).Add(in.Amount, req.ExtAmount)
	rhs := new(big.Int).Add(change.Amount, req.Fee)
	assert.Equal(t, 0, lhs.Cmp(rhs))
}

func TestBuildWithFeeAndChangeKeypair(t *testing.T) {
	kp, err := shielded.NewKeypair(shielded.MiMC{})
	require.NoError(t, err)
	other, err := shielded.NewKeypair(shielded.MiMC{})
	require.NoError(t, err)

	_, change, err := Request{
		Inputs:        []*shielded.Utxo{note(t, kp, 10), note(t, kp, 5)},
		Amount:        big.NewInt(12),
		Fee:           big.NewInt(3),
		Recipient:     recipient,
		ChangeKeypair: other,
	}.Build(shielded.MiMC{})
	require.NoError(t, err)
	assert.Equal(t, 0, change.Amount.Sign())
	assert.Same(t, other, change.Keypair)
}

func TestBuildRejects(t *testing.T) {
	kp, err := shielded.NewKeypair(shielded.MiMC{})
	require.NoError(t, err)
	in := note(t, kp, 10)

	_, _, err = Request{Inputs: []*shielded.Utxo{in}, Amount: big.NewInt(5)}.Build(shielded.MiMC{})
	assert.ErrorIs(t, err, ErrNoRecipient)

	_, _, err = Request{Inputs: []*shielded.Utxo{in}, Amount: big.NewInt(11), Recipient: recipient}.Build(shielded.MiMC{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, _, err = Request{Inputs: []*shielded.Utxo{in}, Amount: big.NewInt(9), Fee: big.NewInt(2), Recipient: recipient}.Build(shielded.MiMC{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, _, err = Request{Amount: big.NewInt(1), Recipient: recipient}.Build(shielded.MiMC{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, _, err = Request{Inputs: []*shielded.Utxo{in}, Amount: big.NewInt(0), Recipient: recipient}.Build(shielded.MiMC{})
	assert.Error(t, err)

	assert.NotPanics(t, func() {
		_, _, err = Request{Inputs: []*shielded.Utxo{in, nil}, Amount: big.NewInt(1), Recipient: recipient}.Build(shielded.MiMC{})
	})
	assert.Error(t, err)
}
