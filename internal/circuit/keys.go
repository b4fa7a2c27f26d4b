package circuit

import (
	"io"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/pkg/errors"
)

func writeKey(path string, key io.WriterTo) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create key file")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	if _, err := key.WriteTo(f); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func readKey(path string, key io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open key file")
	}
	defer f.Close()
	if _, err := key.ReadFrom(f); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return nil
}

func loadKeys(pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// SetupOrLoadKeys loads the key pair when both files read back cleanly and runs a
// fresh Groth16 setup otherwise, overwriting the files. With empty paths the keys
// are only kept in memory.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, bool, error) {
	persist := pkPath != "" && vkPath != ""
	if persist {
		if pk, vk, err := loadKeys(pkPath, vkPath); err == nil {
			return pk, vk, true, nil
		}
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "groth16 setup")
	}
	if !persist {
		return pk, vk, false, nil
	}
	if err := writeKey(pkPath, pk); err != nil {
		return nil, nil, false, errors.Wrap(err, "save proving key")
	}
	if err := writeKey(vkPath, vk); err != nil {
		return nil, nil, false, errors.Wrap(err, "save verifying key")
	}
	return pk, vk, false, nil
}
