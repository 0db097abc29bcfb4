// File: internal/infra/chain/chain.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/config"
	"payportal/internal/domain/ports/adapter"
	"payportal/internal/infra/chain/evm"
	"payportal/internal/infra/chain/mock"
	"payportal/internal/infra/chain/svm"
	"payportal/internal/infra/metrics"
)

// Open builds the provider for one configured chain, wrapped with metrics.
// The returned close func releases the node connection.
func Open(ctx context.Context, cfg config.ChainConfig, logger *zerolog.Logger) (adapter.ChainVerifier, func(), error) {
	noop := func() {}
	switch cfg.Type {
	case "mock":
		logger.Warn().Int64("chain_id", cfg.ChainID).Msg("using mock verification provider")
		return Instrument(mock.New(), cfg.ChainID), noop, nil

	case "evm":
		tokens := make([]evm.Token, 0, len(cfg.Tokens))
		for _, t := range cfg.Tokens {
			tok, err := evm.ParseToken(t.Symbol, t.Contract, t.Decimals)
			if err != nil {
				return nil, noop, fmt.Errorf("chain %d: %w", cfg.ChainID, err)
			}
			tokens = append(tokens, tok)
		}
		client, err := evm.Dial(ctx, cfg.RPCURL)
		if err != nil {
			return nil, noop, fmt.Errorf("chain %d: %w", cfg.ChainID, err)
		}
		return Instrument(evm.New(client, cfg.Symbol, tokens), cfg.ChainID), client.Close, nil

	case "solana":
		tokens := make([]svm.Token, 0, len(cfg.Tokens))
		for _, t := range cfg.Tokens {
			tok, err := svm.ParseToken(t.Symbol, t.Contract, t.Decimals)
			if err != nil {
				return nil, noop, fmt.Errorf("chain %d: %w", cfg.ChainID, err)
			}
			tokens = append(tokens, tok)
		}
		client := svm.Dial(cfg.RPCURL)
		return Instrument(svm.New(client, cfg.Symbol, tokens), cfg.ChainID), func() { _ = client.Close() }, nil
	}
	return nil, noop, fmt.Errorf("chain %d: unknown type %q", cfg.ChainID, cfg.Type)
}

type instrumented struct {
	inner   adapter.ChainVerifier
	chainID int64
}

// Instrument records the latency and outcome of every provider call.
func Instrument(inner adapter.ChainVerifier, chainID int64) adapter.ChainVerifier {
	return &instrumented{inner: inner, chainID: chainID}
}

func (i *instrumented) CheckTransaction(ctx context.Context, chainID int64, ref string) (adapter.Receipt, error) {
	start := time.Now()
	r, err := i.inner.CheckTransaction(ctx, chainID, ref)
	metrics.ObserveChainCheck(i.chainID, result(r, err), time.Since(start))
	return r, err
}

func result(r adapter.Receipt, err error) string {
	switch {
	case errors.Is(err, adapter.ErrUnknownTransaction):
		return "unknown"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case err != nil:
		return "error"
	case !r.Found:
		return "not_found"
	case r.Reverted:
		return "reverted"
	default:
		return "found"
	}
}
