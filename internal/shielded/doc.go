// Package shielded implements the client-side primitives of a shielded value pool.
//
// Overview:
//   - Keypairs: a secret field scalar, a public key Hash(scalar), and an x25519 encryption key
//   - Notes (UTXOs): amount, owner keypair, blinding and tree index
//   - Commitments Hash(amount, publicKey, blinding) and nullifiers Hash(commitment, index, signature)
//   - Note encryption for asynchronous delivery, and scanning of published ciphertexts
//
// Security Model:
//   - Hashes are computed over the BN254 scalar field (MiMC by default, Poseidon optional)
//   - Notes are encrypted with x25519-xsalsa20-poly1305 (NaCl box) under a fresh ephemeral key
//   - Every private key, blinding and nonce is sampled from crypto/rand at construction time
//   - Decryption failures never reveal which check failed
//
// Usage:
//   - Build a Params with DefaultParams and validate it once at startup
//   - Create keypairs with NewKeypair, notes with NewUtxo, and recover notes with ScanBatch
package shielded
