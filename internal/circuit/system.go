package circuit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"shieldedpool/internal/metrics"
	"shieldedpool/internal/shielded"
	"shieldedpool/internal/transactions/transact"
)

var (
	// ErrUnsupportedHasher is returned for pool hashes the circuit cannot recompute.
	ErrUnsupportedHasher = errors.New("circuit only supports the mimc hasher")
	// ErrUnknownTier is returned for witnesses or proofs whose arity has no circuit.
	ErrUnknownTier = errors.New("no circuit for tier")
	// ErrInvalidProof is returned when Groth16 verification fails.
	ErrInvalidProof = errors.New("invalid proof")
)

type tierKeys struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// System holds a compiled circuit and Groth16 keys per tier. It proves for the
// transaction builder and verifies for the ledger.
type System struct {
	levels int
	log    zerolog.Logger

	mu    sync.RWMutex
	tiers map[transact.Tier]*tierKeys
}

// NewSystem compiles and sets up every tier concurrently. Keys are loaded from and
// saved to keyDir unless it is empty.
func NewSystem(ctx context.Context, params *shielded.Params, tiers []transact.Tier, keyDir string, log zerolog.Logger) (*System, error) {
	if params.Hasher.Name() != (shielded.MiMC{}).Name() {
		return nil, errors.Wrapf(ErrUnsupportedHasher, "got %s", params.Hasher.Name())
	}
	if keyDir != "" {
		if err := os.MkdirAll(keyDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create key directory")
		}
	}
	s := &System{
		levels: params.TreeHeight,
		log:    log.With().Str("component", "circuit").Logger(),
		tiers:  make(map[transact.Tier]*tierKeys, len(tiers)),
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, tier := range tiers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.setupTier(tier, keyDir)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *System) setupTier(tier transact.Tier, keyDir string) error {
	start := time.Now()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, New(s.levels, tier))
	if err != nil {
		return errors.Wrapf(err, "compile tier %s", tier)
	}
	var pkPath, vkPath string
	if keyDir != "" {
		base := filepath.Join(keyDir, fmt.Sprintf("transaction%d_%dx%d", s.levels, tier.Inputs, tier.Outputs))
		pkPath, vkPath = base+".pk", base+".vk"
	}
	pk, vk, loaded, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return errors.Wrapf(err, "keys for tier %s", tier)
	}
	metrics.RecordCircuitCompile(tier.String(), time.Since(start))
	s.log.Info().
		Str("tier", tier.String()).
		Int("constraints", ccs.GetNbConstraints()).
		Bool("loaded", loaded).
		Dur("took", time.Since(start)).
		Msg("circuit ready")

	s.mu.Lock()
	s.tiers[tier] = &tierKeys{ccs: ccs, pk: pk, vk: vk}
	s.mu.Unlock()
	return nil
}

func (s *System) keys(tier transact.Tier) (*tierKeys, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.tiers[tier]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTier, "%s", tier)
	}
	return k, nil
}

// Tiers lists the tiers the system can prove.
func (s *System) Tiers() []transact.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]transact.Tier, 0, len(s.tiers))
	for t := range s.tiers {
		out = append(out, t)
	}
	return out
}

// Prove implements transact.Prover.
func (s *System) Prove(ctx context.Context, w *transact.Witness) ([]byte, error) {
	k, err := s.keys(w.Tier)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := frontend.NewWitness(Assign(s.levels, w), ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "witness creation failed")
	}
	proof, err := groth16.Prove(k.ccs, k.pk, full)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "proof marshaling failed")
	}
	return buf.Bytes(), nil
}

// Verify checks a proof against its public signals. The tier follows from the number
// of nullifiers and commitments.
func (s *System) Verify(args transact.Args) error {
	tier := transact.Tier{Inputs: len(args.InputNullifiers), Outputs: len(args.OutputCommitments)}
	k, err := s.keys(tier)
	if err != nil {
		return err
	}
	public, err := frontend.NewWitness(AssignPublic(s.levels, tier, args), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(err, "public witness creation failed")
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(args.Proof)); err != nil {
		return errors.Wrap(ErrInvalidProof, err.Error())
	}
	if err := groth16.Verify(proof, k.vk, public); err != nil {
		return errors.Wrap(ErrInvalidProof, err.Error())
	}
	return nil
}
