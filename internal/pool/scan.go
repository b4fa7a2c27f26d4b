package pool

import (
	"context"

	"github.com/pkg/errors"

	"shieldedpool/internal/metrics"
	"shieldedpool/internal/shielded"
)

// Scan returns the notes kp owns in batches published from fromBlock on, one per
// batch at most. Batches already scanned for kp are answered from the cache. An
// ambiguous batch aborts the scan.
func (s *Session) Scan(ctx context.Context, kp *shielded.Keypair, fromBlock uint64) ([]*shielded.Utxo, error) {
	address := kp.Address()
	var found []*shielded.Utxo
	for _, batch := range s.ledger.Batches(fromBlock) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := scanKey{address: address, block: batch.Block}
		if note, ok := s.scanned.Get(key); ok {
			metrics.RecordScan("cached")
			if note != nil {
				found = append(found, note)
			}
			continue
		}

		note, err := shielded.ScanBatch(kp, batch)
		switch {
		case errors.Is(err, shielded.ErrNoteNotFound):
			metrics.RecordScan("empty")
			s.scanned.Add(key, nil)
		case errors.Is(err, shielded.ErrAmbiguousNote):
			metrics.RecordScan("ambiguous")
			s.log.Error().Uint64("block", batch.Block).Msg("ambiguous batch")
			return nil, errors.Wrapf(err, "block %d", batch.Block)
		case err != nil:
			return nil, errors.Wrapf(err, "block %d", batch.Block)
		default:
			metrics.RecordScan("found")
			s.scanned.Add(key, note)
			found = append(found, note)
		}
	}
	return found, nil
}

// Unspent scans from fromBlock and drops notes whose nullifier the ledger has seen.
func (s *Session) Unspent(ctx context.Context, kp *shielded.Keypair, fromBlock uint64) ([]*shielded.Utxo, error) {
	notes, err := s.Scan(ctx, kp, fromBlock)
	if err != nil {
		return nil, err
	}
	out := notes[:0:0]
	for _, n := range notes {
		nf, err := n.Nullifier()
		if err != nil {
			return nil, err
		}
		if !s.ledger.IsSpent(nf) {
			out = append(out, n)
		}
	}
	return out, nil
}
