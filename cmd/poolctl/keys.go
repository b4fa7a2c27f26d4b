package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"shieldedpool/internal/shielded"
)

var keyOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates a shielded keypair and prints its address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := shielded.NewKeypair(params.Hasher)
		if err != nil {
			return err
		}
		sk, err := kp.PrivateKeyBytes()
		if err != nil {
			return err
		}
		if keyOut != "" {
			if err := os.WriteFile(keyOut, []byte(hex.EncodeToString(sk)+"\n"), 0o600); err != nil {
				return errors.Wrap(err, "write key")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private key written to %s\n", keyOut)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "private key: %x\n", sk)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "address:     %s\n", kp.Address())
		return nil
	},
}

var addressCmd = &cobra.Command{
	Use:   "address <private key hex | key file>",
	Short: "Prints the shielded address of a private key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := loadKeypair(params.Hasher, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), kp.Address())
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keyOut, "out", "", "write the private key to this file instead of stdout")
}

// loadKeypair accepts a hex private key or the path of a file holding one.
func loadKeypair(h shielded.Hasher, arg string) (*shielded.Keypair, error) {
	s := arg
	if raw, err := os.ReadFile(arg); err == nil {
		s = string(raw)
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	sk, err := hex.DecodeString(s)
	if err != nil || len(sk) != 32 {
		return nil, errors.New("private key must be 32 hex-encoded bytes")
	}
	return shielded.KeypairFromPrivateKey(h, new(big.Int).SetBytes(sk))
}
