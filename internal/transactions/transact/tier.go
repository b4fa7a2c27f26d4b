package transact

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Tier is the fixed arity of one proof circuit and its ledger verifier.
type Tier struct {
	Inputs  int
	Outputs int
}

// DefaultTiers mirrors the two verifiers of the pool contract.
var DefaultTiers = []Tier{{Inputs: 2, Outputs: 2}, {Inputs: 16, Outputs: 2}}

func (t Tier) String() string {
	return fmt.Sprintf("%dx%d", t.Inputs, t.Outputs)
}

// Fits reports whether nIns inputs and nOuts outputs can be padded to t.
func (t Tier) Fits(nIns, nOuts int) bool {
	return nIns <= t.Inputs && nOuts <= t.Outputs
}

// SelectTier picks the smallest tier that fits.
func SelectTier(tiers []Tier, nIns, nOuts int) (Tier, error) {
	if nIns < 0 || nOuts < 0 {
		return Tier{}, ErrInvalidArity
	}
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Inputs != sorted[j].Inputs {
			return sorted[i].Inputs < sorted[j].Inputs
		}
		return sorted[i].Outputs < sorted[j].Outputs
	})
	for _, t := range sorted {
		if t.Fits(nIns, nOuts) {
			return t, nil
		}
	}
	return Tier{}, errors.Wrapf(ErrInvalidArity, "%d inputs, %d outputs", nIns, nOuts)
}
