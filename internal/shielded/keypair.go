// keypair.go - Keypairs, addresses and note encryption.
//
// A keypair is a secret field scalar, its public key Hash(scalar), and an x25519 key
// derived from the same scalar that recipients use to receive encrypted notes.

package shielded

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	nonceSize        = 24
	encryptionKeyLen = 32
	fieldBytes       = 32
	// MaxPlaintextSize bounds the payloads Encrypt accepts.
	MaxPlaintextSize = 1024
)

// Keypair owns notes in the pool. It is immutable once created.
// A public-only keypair (parsed from an address) can receive notes but not spend
// or decrypt them.
type Keypair struct {
	hasher        Hasher
	privateKey    *big.Int // nil for public-only keypairs
	publicKey     *big.Int
	encryptionKey [encryptionKeyLen]byte
}

// NewKeypair generates a fresh keypair from crypto/rand.
func NewKeypair(h Hasher) (*Keypair, error) {
	sk, err := randomFieldElement()
	if err != nil {
		return nil, err
	}
	return KeypairFromPrivateKey(h, sk)
}

// KeypairFromPrivateKey rebuilds a full keypair from its private scalar.
func KeypairFromPrivateKey(h Hasher, sk *big.Int) (*Keypair, error) {
	if sk == nil || sk.Sign() <= 0 || sk.Cmp(FieldSize) >= 0 {
		return nil, errors.New("private key is not a non-zero field element")
	}
	encKey, err := curve25519.X25519(toFixedBytes(sk, fieldBytes), curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "derive encryption key")
	}
	kp := &Keypair{
		hasher:     h,
		privateKey: new(big.Int).Set(sk),
		publicKey:  h.Hash(sk),
	}
	copy(kp.encryptionKey[:], encKey)
	return kp, nil
}

// KeypairFromString parses an address into a public-only keypair.
func KeypairFromString(address string) (*Keypair, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if len(s) != 2*(fieldBytes+encryptionKeyLen) {
		return nil, errors.Wrapf(ErrMalformedAddress, "expected %d hex characters, got %d", 2*(fieldBytes+encryptionKeyLen), len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedAddress, "not hex")
	}
	pub := new(big.Int).SetBytes(raw[:fieldBytes])
	if pub.Cmp(FieldSize) >= 0 {
		return nil, errors.Wrap(ErrMalformedAddress, "public key is not a field element")
	}
	// low-order points would give every sender the same all-zero shared key
	if _, err := curve25519.X25519(curve25519.Basepoint, raw[fieldBytes:]); err != nil {
		return nil, errors.Wrap(ErrMalformedAddress, "encryption key is a low-order point")
	}
	kp := &Keypair{publicKey: pub}
	copy(kp.encryptionKey[:], raw[fieldBytes:])
	return kp, nil
}

// Address returns the shareable encoding 0x || publicKey(32) || encryptionKey(32).
func (k *Keypair) Address() string {
	return "0x" + hex.EncodeToString(toFixedBytes(k.publicKey, fieldBytes)) + hex.EncodeToString(k.encryptionKey[:])
}

// PublicKey returns a copy of the public key field element.
func (k *Keypair) PublicKey() *big.Int {
	return new(big.Int).Set(k.publicKey)
}

// HasPrivateKey reports whether the keypair can spend and decrypt.
func (k *Keypair) HasPrivateKey() bool {
	return k.privateKey != nil
}

// PrivateKey returns a copy of the private scalar, or ErrMissingPrivateKey.
func (k *Keypair) PrivateKey() (*big.Int, error) {
	if k.privateKey == nil {
		return nil, ErrMissingPrivateKey
	}
	return new(big.Int).Set(k.privateKey), nil
}

// PrivateKeyBytes returns the 32-byte big-endian private scalar.
func (k *Keypair) PrivateKeyBytes() ([]byte, error) {
	if k.privateKey == nil {
		return nil, ErrMissingPrivateKey
	}
	return toFixedBytes(k.privateKey, fieldBytes), nil
}

// Sign binds the private key to a commitment at a tree position: Hash(sk, commitment, index).
func (k *Keypair) Sign(commitment *big.Int, index uint64) (*big.Int, error) {
	if k.privateKey == nil {
		return nil, ErrMissingPrivateKey
	}
	return k.hasher.Hash(k.privateKey, commitment, new(big.Int).SetUint64(index)), nil
}

// Encrypt seals plaintext for this keypair with an ephemeral x25519 key.
// The output is nonce(24) || ephemeralPublicKey(32) || box.
func (k *Keypair) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, errors.Errorf("plaintext of %d bytes exceeds %d", len(plaintext), MaxPlaintextSize)
	}
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate ephemeral key")
	}
	if _, err := curve25519.X25519(ephPriv[:], k.encryptionKey[:]); err != nil {
		return nil, errors.Wrap(ErrMalformedAddress, "encryption key is a low-order point")
	}
	var shared [encryptionKeyLen]byte
	box.Precompute(&shared, &k.encryptionKey, ephPriv)
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "sample nonce")
	}
	out := make([]byte, 0, nonceSize+encryptionKeyLen+len(plaintext)+box.Overhead)
	out = append(out, nonce[:]...)
	out = append(out, ephPub[:]...)
	return box.SealAfterPrecomputation(out, plaintext, &nonce, &shared), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (k *Keypair) Decrypt(ciphertext []byte) ([]byte, error) {
	if k.privateKey == nil {
		return nil, opaque(ErrMissingPrivateKey)
	}
	if len(ciphertext) < nonceSize+encryptionKeyLen+box.Overhead {
		return nil, ErrDecryptionFailed
	}
	var nonce [nonceSize]byte
	var ephPub, secret [encryptionKeyLen]byte
	copy(nonce[:], ciphertext[:nonceSize])
	copy(ephPub[:], ciphertext[nonceSize:nonceSize+encryptionKeyLen])
	copy(secret[:], toFixedBytes(k.privateKey, fieldBytes))
	if _, err := curve25519.X25519(secret[:], ephPub[:]); err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, ok := box.Open(nil, ciphertext[nonceSize+encryptionKeyLen:], &nonce, &ephPub, &secret)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
