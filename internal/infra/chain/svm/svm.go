// Package svm verifies payments on Solana through a JSON-RPC node.
package svm

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
)

const lamportDecimals = 9

// FinalizedConfirmations is reported once the cluster has finalized the slot.
const FinalizedConfirmations = math.MaxUint32

// RPC is the subset of rpc.Client the verifier needs.
type RPC interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// Token is an SPL mint accepted as payment.
type Token struct {
	Symbol   string
	Mint     solana.PublicKey
	Decimals int
}

type Verifier struct {
	client RPC
	symbol string
	mints  map[solana.PublicKey]Token
}

var _ adapter.ChainVerifier = (*Verifier)(nil)

// Dial returns a client for rpcURL. No request is made until first use.
func Dial(rpcURL string) *rpc.Client {
	return rpc.New(rpcURL)
}

func New(client RPC, nativeSymbol string, tokens []Token) *Verifier {
	m := make(map[solana.PublicKey]Token, len(tokens))
	for _, t := range tokens {
		m[t.Mint] = t
	}
	return &Verifier{client: client, symbol: nativeSymbol, mints: m}
}

// ParseToken validates a configured SPL mint.
func ParseToken(symbol, mint string, decimals int) (Token, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return Token{}, fmt.Errorf("token %s: invalid mint %q: %w", symbol, mint, err)
	}
	return Token{Symbol: symbol, Mint: pk, Decimals: decimals}, nil
}

func (v *Verifier) CheckTransaction(ctx context.Context, _ int64, ref string) (adapter.Receipt, error) {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return adapter.Receipt{}, adapter.ErrUnknownTransaction
	}

	statuses, err := v.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return adapter.Receipt{}, fmt.Errorf("get signature statuses: %w", err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return adapter.Receipt{}, nil
	}
	st := statuses.Value[0]
	out := adapter.Receipt{Found: true, Confirmations: confirmations(st)}
	if st.Err != nil {
		out.Reverted = true
		return out, nil
	}
	if out.Confirmations == 0 {
		return out, nil
	}

	maxVersion := uint64(0)
	res, err := v.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return adapter.Receipt{}, fmt.Errorf("get transaction: %w", err)
	}
	if res == nil || res.Transaction == nil || res.Meta == nil {
		// status is ahead of the ledger copy the node serves
		return adapter.Receipt{Found: true}, nil
	}
	if res.Meta.Err != nil {
		out.Reverted = true
		return out, nil
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return adapter.Receipt{}, fmt.Errorf("decode transaction: %w", err)
	}
	v.settle(&out, tx.Message.AccountKeys, res.Meta)
	return out, nil
}

// settle fills payer, recipient and amount from balance deltas. A credited
// SPL mint wins over native lamports.
func (v *Verifier) settle(out *adapter.Receipt, keys []solana.PublicKey, meta *rpc.TransactionMeta) {
	if len(keys) > 0 {
		out.Payer = keys[0].String()
	}
	if owner, t, delta, ok := v.tokenCredit(keys, meta); ok {
		out.Recipient = owner
		out.TokenSymbol = t.Symbol
		out.Amount = model.FormatUnits(delta, t.Decimals)
		return
	}
	out.TokenSymbol = v.symbol
	if idx, delta, ok := lamportCredit(meta); ok && idx < len(keys) {
		out.Recipient = keys[idx].String()
		out.Amount = model.FormatUnits(delta, lamportDecimals)
		return
	}
	out.Amount = "0"
}

// tokenCredit returns the largest positive balance change of a configured
// mint, keyed by the token account owner.
func (v *Verifier) tokenCredit(keys []solana.PublicKey, meta *rpc.TransactionMeta) (string, Token, *big.Int, bool) {
	pre := make(map[uint16]*big.Int, len(meta.PreTokenBalances))
	for _, b := range meta.PreTokenBalances {
		if _, ok := v.mints[b.Mint]; ok {
			pre[b.AccountIndex] = rawAmount(b.UiTokenAmount)
		}
	}
	var (
		best      *big.Int
		bestOwner string
		bestToken Token
	)
	for _, b := range meta.PostTokenBalances {
		t, ok := v.mints[b.Mint]
		if !ok {
			continue
		}
		delta := rawAmount(b.UiTokenAmount)
		if p, ok := pre[b.AccountIndex]; ok {
			delta.Sub(delta, p)
		}
		if delta.Sign() <= 0 || (best != nil && delta.Cmp(best) <= 0) {
			continue
		}
		owner := ""
		switch {
		case b.Owner != nil:
			owner = b.Owner.String()
		case int(b.AccountIndex) < len(keys):
			owner = keys[b.AccountIndex].String()
		}
		best, bestOwner, bestToken = delta, owner, t
	}
	return bestOwner, bestToken, best, best != nil
}

// lamportCredit returns the account with the largest positive lamport change.
// The fee payer is skipped.
func lamportCredit(meta *rpc.TransactionMeta) (int, *big.Int, bool) {
	bestIdx, best := -1, uint64(0)
	for i := 1; i < len(meta.PostBalances) && i < len(meta.PreBalances); i++ {
		post, pre := meta.PostBalances[i], meta.PreBalances[i]
		if post > pre && post-pre > best {
			bestIdx, best = i, post-pre
		}
	}
	if bestIdx < 0 {
		return 0, nil, false
	}
	return bestIdx, new(big.Int).SetUint64(best), true
}

func rawAmount(a *rpc.UiTokenAmount) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(a.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func confirmations(st *rpc.SignatureStatusesResult) uint64 {
	if st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		return FinalizedConfirmations
	}
	if st.Confirmations != nil {
		return *st.Confirmations
	}
	return 0
}
