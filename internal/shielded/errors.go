package shielded

import "github.com/pkg/errors"

var (
	// ErrMalformedAddress is returned when an address is not a valid encoding of a public key.
	ErrMalformedAddress = errors.New("malformed address")
	// ErrDecryptionFailed covers wrong keys, bad ciphertexts and failed authentication.
	ErrDecryptionFailed = errors.New("note decryption failed")
	// ErrCorruptedNote is returned when a decrypted note does not match its commitment.
	// Its message is that of ErrDecryptionFailed.
	ErrCorruptedNote = errors.New("note decryption failed")
	// ErrMissingPrivateKey is returned for spend or decrypt attempts with a public-only keypair.
	ErrMissingPrivateKey = errors.New("keypair has no private key")
	// ErrNotInTree is returned when a note has no position in the commitment tree.
	ErrNotInTree = errors.New("note is not in the commitment tree")
	// ErrAmountOutOfRange is returned for amounts that do not fit in 248 bits.
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrNoteNotFound is returned when no candidate of a batch decrypts under the keypair.
	ErrNoteNotFound = errors.New("no note for keypair in batch")
	// ErrAmbiguousNote is returned when more than one candidate of a batch decrypts.
	ErrAmbiguousNote = errors.New("more than one note for keypair in batch")
	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("invalid pool parameters")
)

// opaqueError reports every decryption problem with the same message and matches
// ErrDecryptionFailed, while errors.Is still reaches the cause.
type opaqueError struct{ cause error }

func (e opaqueError) Error() string        { return ErrDecryptionFailed.Error() }
func (e opaqueError) Is(target error) bool { return target == ErrDecryptionFailed }
func (e opaqueError) Unwrap() error        { return e.cause }

func opaque(cause error) error {
	return opaqueError{cause: cause}
}
