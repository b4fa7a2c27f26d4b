package ledger

import (
	"encoding/json"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"shieldedpool/internal/shielded"
)

// state is the JSON form of a pool. The tree and root history are rebuilt on load.
type state struct {
	Block       uint64                    `json:"block"`
	Held        *big.Int                  `json:"held"`
	Balances    map[common.Address]string `json:"balances"`
	Commitments []CommitmentEvent         `json:"commitments"`
	Nullifiers  []NullifierEvent          `json:"nullifiers"`
	PublicKeys  []PublicKeyEvent          `json:"publicKeys"`
	Accounts    []EncryptedAccountEvent   `json:"accounts"`
}

// SaveToFile writes the event log and balances as JSON, overwriting path.
func (p *Pool) SaveToFile(path string) error {
	p.mu.RLock()
	st := state{
		Block:       p.block,
		Held:        new(big.Int).Set(p.held),
		Balances:    make(map[common.Address]string, len(p.balances)),
		Commitments: p.commitmentEvents,
		Nullifiers:  p.nullifierEvents,
		PublicKeys:  p.publicKeys,
		Accounts:    p.accounts,
	}
	for addr, bal := range p.balances {
		st.Balances[addr] = bal.String()
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "encode ledger")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "write ledger")
}

// LoadFromFile restores a pool saved with SaveToFile.
func LoadFromFile(path string, params *shielded.Params, verifiers map[int]Verifier, log zerolog.Logger) (*Pool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, errors.Wrap(err, "decode ledger")
	}
	p, err := New(params, verifiers, log)
	if err != nil {
		return nil, err
	}

	// replay commitments block by block so the root history matches
	for i := 0; i < len(st.Commitments); {
		j := i
		for j < len(st.Commitments) && st.Commitments[j].Block == st.Commitments[i].Block {
			if st.Commitments[j].Index != uint64(j) {
				return nil, errors.Errorf("commitment %d stored with index %d", j, st.Commitments[j].Index)
			}
			j++
		}
		leaves := make([]*big.Int, 0, j-i)
		for _, ev := range st.Commitments[i:j] {
			leaves = append(leaves, ev.Commitment)
		}
		if err := p.tree.BulkInsert(leaves); err != nil {
			return nil, err
		}
		p.pushRoot(p.tree.Root())
		i = j
	}

	for _, ev := range st.Nullifiers {
		p.nullifiers[ev.Nullifier.String()] = struct{}{}
	}
	for addr, s := range st.Balances {
		bal, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, errors.Errorf("balance of %s: %q", addr.Hex(), s)
		}
		p.balances[addr] = bal
	}
	if st.Held != nil {
		p.held = st.Held
	}
	p.block = st.Block
	p.commitmentEvents = st.Commitments
	p.nullifierEvents = st.Nullifiers
	p.publicKeys = st.PublicKeys
	p.accounts = st.Accounts
	return p, nil
}
