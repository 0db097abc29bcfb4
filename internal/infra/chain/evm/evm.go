// Package evm verifies payments on EVM chains through a JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
)

const nativeDecimals = 18

var (
	txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// Client is the subset of ethclient.Client the verifier needs.
type Client interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ Client = (*ethclient.Client)(nil)

// Token is an ERC-20 contract accepted as payment.
type Token struct {
	Symbol   string
	Contract common.Address
	Decimals int
}

type Verifier struct {
	client Client
	symbol string
	tokens map[common.Address]Token
}

var _ adapter.ChainVerifier = (*Verifier)(nil)

// Dial connects to an EVM node over HTTP or WebSocket.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return c, nil
}

// New builds a verifier. nativeSymbol names the chain's gas token.
func New(client Client, nativeSymbol string, tokens []Token) *Verifier {
	m := make(map[common.Address]Token, len(tokens))
	for _, t := range tokens {
		m[t.Contract] = t
	}
	return &Verifier{client: client, symbol: nativeSymbol, tokens: m}
}

// ParseToken validates a configured ERC-20 contract.
func ParseToken(symbol, contract string, decimals int) (Token, error) {
	if !common.IsHexAddress(contract) {
		return Token{}, fmt.Errorf("token %s: invalid contract address %q", symbol, contract)
	}
	if decimals < 0 || decimals > 36 {
		return Token{}, fmt.Errorf("token %s: invalid decimals %d", symbol, decimals)
	}
	return Token{Symbol: symbol, Contract: common.HexToAddress(contract), Decimals: decimals}, nil
}

func (v *Verifier) CheckTransaction(ctx context.Context, _ int64, ref string) (adapter.Receipt, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if !txHashPattern.MatchString(ref) {
		return adapter.Receipt{}, adapter.ErrUnknownTransaction
	}
	hash := common.HexToHash(ref)

	tx, isPending, err := v.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return adapter.Receipt{}, nil
	}
	if err != nil {
		return adapter.Receipt{}, fmt.Errorf("transaction by hash: %w", err)
	}
	if isPending {
		return adapter.Receipt{Found: true}, nil
	}

	rcpt, err := v.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return adapter.Receipt{Found: true}, nil
	}
	if err != nil {
		return adapter.Receipt{}, fmt.Errorf("transaction receipt: %w", err)
	}
	head, err := v.client.BlockNumber(ctx)
	if err != nil {
		return adapter.Receipt{}, fmt.Errorf("block number: %w", err)
	}

	out := adapter.Receipt{
		Found:         true,
		Confirmations: confirmations(head, rcpt.BlockNumber),
		Reverted:      rcpt.Status == types.ReceiptStatusFailed,
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		out.Payer = from.Hex()
	}
	if out.Reverted {
		return out, nil
	}

	if t, to, value, ok := v.tokenTransfer(rcpt.Logs); ok {
		out.Amount = model.FormatUnits(value, t.Decimals)
		out.TokenSymbol = t.Symbol
		out.Recipient = to.Hex()
		return out, nil
	}
	out.Amount = model.FormatUnits(tx.Value(), nativeDecimals)
	out.TokenSymbol = v.symbol
	if tx.To() != nil {
		out.Recipient = tx.To().Hex()
	}
	return out, nil
}

// tokenTransfer returns the first Transfer event emitted by a configured
// token contract.
func (v *Verifier) tokenTransfer(logs []*types.Log) (Token, common.Address, *big.Int, bool) {
	for _, l := range logs {
		if l == nil || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		t, ok := v.tokens[l.Address]
		if !ok {
			continue
		}
		to := common.BytesToAddress(l.Topics[2].Bytes())
		return t, to, new(big.Int).SetBytes(l.Data), true
	}
	return Token{}, common.Address{}, nil, false
}

func confirmations(head uint64, block *big.Int) uint64 {
	if block == nil || !block.IsUint64() {
		return 0
	}
	b := block.Uint64()
	if head < b {
		return 0
	}
	return head - b + 1
}
