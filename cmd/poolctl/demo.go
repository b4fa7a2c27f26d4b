package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shieldedpool/internal/circuit"
	"shieldedpool/internal/ledger"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/shielded"
	"shieldedpool/internal/transactions/register"
	"shieldedpool/internal/transactions/transact"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/wallet"
)

var (
	aliceAccount     = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bobAccount       = common.HexToAddress("0x00000000000000000000000000000000000b0b00")
	recipientAccount = common.HexToAddress("0x0000000000000000000000000000000000000def")
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Registers, deposits, transfers and withdraws against the reference ledger",
	Long: `demo runs three proven transactions against the ledger stored at ledger_path:
alice registers and deposits 10M, pays bob 3M privately, and bob withdraws 2M to a
public account. Found notes are stored in the wallet at wallet_dir.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 4*cfg.ProveTimeout())
		defer cancel()
		return runDemo(ctx, cmd.OutOrStdout(), logger.Logger)
	},
}

func openLedger(path string, verifiers map[int]ledger.Verifier, log zerolog.Logger) (*ledger.Pool, error) {
	l, err := ledger.LoadFromFile(path, params, verifiers, log)
	if errors.Is(err, fs.ErrNotExist) {
		return ledger.New(params, verifiers, log)
	}
	return l, err
}

func runDemo(ctx context.Context, out io.Writer, log zerolog.Logger) error {
	tiers := cfg.TransactTiers()
	sys, err := circuit.NewSystem(ctx, params, tiers, cfg.KeyDir, log)
	if err != nil {
		return err
	}
	verifiers := make(map[int]ledger.Verifier, len(tiers))
	for _, t := range sys.Tiers() {
		verifiers[t.Inputs] = sys
	}
	l, err := openLedger(cfg.LedgerPath, verifiers, log)
	if err != nil {
		return err
	}
	w, err := wallet.Open(cfg.WalletDir, params.Hasher)
	if err != nil {
		return err
	}
	defer w.Close()

	aliceKp, err := shielded.NewKeypair(params.Hasher)
	if err != nil {
		return err
	}
	backupKp, err := shielded.NewKeypair(params.Hasher)
	if err != nil {
		return err
	}
	bobKp, err := shielded.NewKeypair(params.Hasher)
	if err != nil {
		return err
	}

	health := NewHealthChecker()
	health.RegisterComponent("ledger", func() error {
		if !l.IsKnownRoot(l.Root()) {
			return errors.New("latest root missing from history")
		}
		return nil
	})
	health.RegisterComponent("wallet", func() error {
		_, err := w.Balance(aliceKp)
		return err
	})
	if cfg.MetricsAddr != "" {
		stop := startOpsServer(cfg.MetricsAddr, health, log)
		defer stop()
	}

	builder := transact.NewBuilder(params, sys, log).WithTiers(tiers)
	alice, err := pool.NewSession(params, builder, l, aliceAccount, cfg.ScanCacheSize, log)
	if err != nil {
		return err
	}
	bob, err := pool.NewSession(params, builder, l, bobAccount, cfg.ScanCacheSize, log)
	if err != nil {
		return err
	}
	if err := alice.Sync(ctx); err != nil {
		return err
	}
	from := l.Block() + 1

	// alice registers her deposit keypair and deposits 10M
	l.Mint(aliceAccount, big.NewInt(10_000_000))
	payload, err := register.NewPayload(aliceAccount, aliceKp, backupKp)
	if err != nil {
		return err
	}
	deposit, err := shielded.NewUtxo(params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(10_000_000), Keypair: aliceKp})
	if err != nil {
		return err
	}
	if _, err := alice.RegisterAndTransact(ctx, payload, transact.Request{Outputs: []*shielded.Utxo{deposit}}); err != nil {
		return errors.Wrap(err, "deposit")
	}
	recovered, err := alice.RecoverAccount(ctx, aliceAccount, backupKp)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deposited 10000000, account recovered from backup: %t\n", recovered.Address() == aliceKp.Address())

	// alice pays bob 3M at his published address
	bobAddress, err := shielded.KeypairFromString(bobKp.Address())
	if err != nil {
		return err
	}
	toBob, err := shielded.NewUtxo(params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(3_000_000), Keypair: bobAddress})
	if err != nil {
		return err
	}
	change, err := shielded.NewUtxo(params.Hasher, shielded.UtxoOptions{Amount: big.NewInt(7_000_000), Keypair: aliceKp})
	if err != nil {
		return err
	}
	if _, err := alice.Transfer(ctx, []*shielded.Utxo{deposit}, []*shielded.Utxo{toBob, change}); err != nil {
		return errors.Wrap(err, "transfer")
	}
	fmt.Fprintln(out, "transferred 3000000 to bob")

	// bob finds the note and withdraws 2M of it
	if err := bob.Sync(ctx); err != nil {
		return err
	}
	bobNotes, err := bob.Unspent(ctx, bobKp, from)
	if err != nil {
		return err
	}
	if _, _, err := bob.Withdraw(ctx, withdraw.Request{Inputs: bobNotes, Amount: big.NewInt(2_000_000), Recipient: recipientAccount}); err != nil {
		return errors.Wrap(err, "withdraw")
	}
	fmt.Fprintf(out, "withdrew 2000000, recipient balance %s\n", l.BalanceOf(recipientAccount))

	if err := alice.Sync(ctx); err != nil {
		return err
	}
	for _, kp := range []*shielded.Keypair{aliceKp, bobKp} {
		notes, err := alice.Scan(ctx, kp, from)
		if err != nil {
			return err
		}
		for _, n := range notes {
			if err := w.Put(n); err != nil {
				return err
			}
		}
	}
	spent, err := w.Reconcile(ctx, l)
	if err != nil {
		return err
	}
	aliceBal, err := w.Balance(aliceKp)
	if err != nil {
		return err
	}
	bobBal, err := w.Balance(bobKp)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wallet: alice %s, bob %s (%d spent notes reconciled)\n", aliceBal, bobBal, spent)
	fmt.Fprintf(out, "pool holds %s\n", l.Held())

	if report := health.CheckHealth(); report.OverallStatus != Healthy {
		log.Warn().Interface("health", report).Msg("unhealthy after demo")
	}
	return l.SaveToFile(cfg.LedgerPath)
}
