// mixpoold runs one mixing pool end to end against an in-memory ledger:
// configure, deposit, withdraw, print the escrow movements. A demo
// harness for the engine, not a service surface.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/kysee/mixpool/mixer/crypto"
	"github.com/kysee/mixpool/mixer/pool"
	"github.com/kysee/mixpool/mixer/proofsys"
	"github.com/kysee/mixpool/mixer/types"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "mixpool.json", "path to pool config")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := pool.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(lvl)
	}

	schemeID, err := proofsys.SchemeByName(cfg.Scheme)
	if err != nil {
		log.Fatal().Err(err).Msg("bad scheme")
	}
	scheme, err := proofsys.New(schemeID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("bad scheme")
	}

	var store pool.Store
	if cfg.StatePath != "" {
		store = pool.NewFileStore(cfg.StatePath)
	}
	ledger := pool.NewMemLedger()

	log.Info().Str("scheme", cfg.Scheme).Int("depth", cfg.TreeDepth).
		Uint64("denomination", cfg.Denomination).Msg("setting up pool")

	p, err := pool.New(cfg, scheme, ledger, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pool")
	}
	stats := pool.NewStats()
	p.Subscribe(stats)

	ctx := context.Background()

	// two deposits so the first withdrawal clears the anonymity floor
	alice, err := p.Deposit(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("deposit failed")
	}
	if _, err := p.Deposit(ctx); err != nil {
		log.Fatal().Err(err).Msg("deposit failed")
	}

	payoutKey, err := crypto.NewKey()
	if err != nil {
		log.Fatal().Err(err).Msg("keygen failed")
	}
	recipient := types.Pub2Addr(payoutKey.Public())

	receipt, err := p.Withdraw(ctx, alice.Note, recipient)
	if err != nil {
		log.Fatal().Err(err).Msg("withdraw failed")
	}
	log.Info().Str("recipient", receipt.Recipient).Uint64("amount", receipt.Amount).
		Str("conf", receipt.Conf.ID).Msg("withdrawal complete")

	for _, mv := range ledger.Movements() {
		log.Info().Str("kind", mv.Kind).Str("to", mv.Recipient).
			Str("amount", mv.Amount.String()).Str("conf", mv.Conf.ID).Msg("escrow movement")
	}
	snap := stats.Snapshot()
	log.Info().Uint64("deposits", snap.Deposits).Uint64("withdrawals", snap.Withdrawals).
		Str("paid_out", snap.PaidOut.String()).Msg("done")
}
