package register

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/shielded"
)

var owner = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestPayloadRecoverRoundTrip(t *testing.T) {
	h := shielded.MiMC{}
	deposit, err := shielded.NewKeypair(h)
	require.NoError(t, err)
	backup, err := shielded.NewKeypair(h)
	require.NoError(t, err)
	backupPub, err := shielded.KeypairFromString(backup.Address())
	require.NoError(t, err)

	p, err := NewPayload(owner, deposit, backupPub)
	require.NoError(t, err)
	assert.Equal(t, owner, p.Owner)
	assert.Equal(t, deposit.Address(), p.PublicKey)

	recovered, err := Recover(h, backup, p.EncryptedAccount)
	require.NoError(t, err)
	assert.Equal(t, deposit.Address(), recovered.Address())
	assert.NoError(t, VerifyRecovered(recovered, p.PublicKey))
}

func TestRecoverWithWrongBackup(t *testing.T) {
	h := shielded.MiMC{}
	deposit, err := shielded.NewKeypair(h)
	require.NoError(t, err)
	backup, err := shielded.NewKeypair(h)
	require.NoError(t, err)
	stranger, err := shielded.NewKeypair(h)
	require.NoError(t, err)

	p, err := NewPayload(owner, deposit, backup)
	require.NoError(t, err)
	_, err = Recover(h, stranger, p.EncryptedAccount)
	assert.ErrorIs(t, err, shielded.ErrDecryptionFailed)

	assert.ErrorIs(t, VerifyRecovered(stranger, p.PublicKey), ErrAccountMismatch)
}

func TestNewPayloadRequiresPrivateKeyAndOwner(t *testing.T) {
	h := shielded.MiMC{}
	deposit, err := shielded.NewKeypair(h)
	require.NoError(t, err)
	backup, err := shielded.NewKeypair(h)
	require.NoError(t, err)
	pub, err := shielded.KeypairFromString(deposit.Address())
	require.NoError(t, err)

	_, err = NewPayload(owner, pub, backup)
	assert.ErrorIs(t, err, shielded.ErrMissingPrivateKey)

	_, err = NewPayload(common.Address{}, deposit, backup)
	assert.Error(t, err)
}
