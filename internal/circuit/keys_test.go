package circuit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type squareCircuit struct {
	X frontend.Variable
	Y frontend.Variable `gnark:",public"`
}

func (c *squareCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(api.Mul(c.X, c.X), c.Y)
	return nil
}

func compileSquare(t *testing.T) constraint.ConstraintSystem {
	t.Helper()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &squareCircuit{})
	require.NoError(t, err)
	return ccs
}

func TestSetupOrLoadKeys(t *testing.T) {
	ccs := compileSquare(t)
	dir := t.TempDir()
	pkPath, vkPath := filepath.Join(dir, "square.pk"), filepath.Join(dir, "square.vk")

	_, _, loaded, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.FileExists(t, pkPath)
	assert.FileExists(t, vkPath)

	_, _, loaded, err = SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)
	assert.True(t, loaded)

	// a truncated key is replaced by a fresh setup
	require.NoError(t, os.WriteFile(vkPath, []byte{1, 2, 3}, 0o600))
	_, _, loaded, err = SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)
	assert.False(t, loaded)
	_, _, loaded, err = SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)
	assert.True(t, loaded)
}

func TestSetupOrLoadKeysInMemory(t *testing.T) {
	pk, vk, loaded, err := SetupOrLoadKeys(compileSquare(t), "", "")
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.NotNil(t, pk)
	assert.NotNil(t, vk)
}

func TestSetupOrLoadKeysUnwritable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")
	_, _, _, err := SetupOrLoadKeys(compileSquare(t), filepath.Join(missing, "k.pk"), filepath.Join(missing, "k.vk"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save proving key")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
