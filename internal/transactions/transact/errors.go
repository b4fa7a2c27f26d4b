package transact

import "github.com/pkg/errors"

var (
	// ErrInvalidArity is returned when no tier can hold the inputs and outputs.
	ErrInvalidArity = errors.New("no circuit tier fits the number of inputs and outputs")
	// ErrUnbalancedTransaction is returned when sum(in) + extAmount != sum(out) + fee.
	ErrUnbalancedTransaction = errors.New("unbalanced transaction")
	// ErrFeeOutOfRange is returned when fee < 0 or fee >= MAX_FEE.
	ErrFeeOutOfRange = errors.New("fee out of range")
	// ErrExtAmountOutOfRange is returned when |extAmount| >= MAX_EXT_AMOUNT.
	ErrExtAmountOutOfRange = errors.New("external amount out of range")
	// ErrMissingRecipient is returned for withdrawals without a recipient.
	ErrMissingRecipient = errors.New("withdrawal needs a recipient")
	// ErrDuplicateInput is returned when two inputs share a nullifier.
	ErrDuplicateInput = errors.New("duplicate input note")
	// ErrProofGenerationFailed wraps any prover fault. It is never retried here.
	ErrProofGenerationFailed = errors.New("proof generation failed")
)
