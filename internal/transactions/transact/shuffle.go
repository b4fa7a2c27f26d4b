package transact

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

// shuffle permutes s uniformly (Fisher-Yates) with crypto/rand.
func shuffle[T any](s []T) error {
	for i := len(s) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return errors.Wrap(err, "shuffle")
		}
		k := int(j.Int64())
		s[i], s[k] = s[k], s[i]
	}
	return nil
}
