package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	erc20ABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	erc20ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// Options parameterise the on-chain balance checker.
type Options struct {
	RPCURL       string
	TokenAddress string
	Timeout      time.Duration
}

// Checker reads token balances over Ethereum RPC so a settlement can fail
// fast with INSUFFICIENT_FUNDS before a nonce is burned.
type Checker struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChecker builds a balance checker.
func NewChecker(opts Options, logger zerolog.Logger) *Checker {
	return &Checker{opts: opts, logger: logger.With().Str("component", "balance_checker").Logger()}
}

// BalanceOf returns the account's token balance in atomic units.
func (c *Checker) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("chain rpc url not configured")
	}
	if c.opts.TokenAddress == "" {
		return nil, errors.New("token contract address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	token := common.HexToAddress(c.opts.TokenAddress)
	payload, err := erc20ABI.Pack("balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected balanceOf response")
	}

	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode balanceOf output")
	}
	return balance, nil
}

// HasBalance reports whether the account holds at least amount atomic units.
func (c *Checker) HasBalance(ctx context.Context, account, amount string) (bool, error) {
	required, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return false, errors.New("amount is not a decimal integer")
	}

	balance, err := c.BalanceOf(ctx, account)
	if err != nil {
		return false, err
	}
	return balance.Cmp(required) >= 0, nil
}

func (c *Checker) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}
