package execution

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/types"
	"go.uber.org/zap"
)

const routerABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

const erc20ABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// Chain submits real swaps through a V2-style router and serves the
// monitor's price/balance polls from the same node connection.
type Chain struct {
	ec        *ethclient.Client
	abi       abi.ABI
	erc20     abi.ABI
	router    common.Address
	quote     common.Address
	recipient common.Address
	gasLimit  uint64
	priv      *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	log       *zap.Logger

	decMu    sync.RWMutex
	decimals map[common.Address]int
}

func NewChain(cfg *config.Config, log *zap.Logger) (*Chain, error) {
	ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
	if err != nil {
		return nil, err
	}
	rABI, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, err
	}
	eABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}

	c := &Chain{
		ec:        ec,
		abi:       rABI,
		erc20:     eABI,
		router:    common.HexToAddress(cfg.Chain.Router),
		quote:     common.HexToAddress(cfg.Chain.Quote),
		recipient: common.HexToAddress(cfg.Chain.Recipient),
		gasLimit:  cfg.Chain.GasLimitSwap,
		log:       log,
		decimals:  make(map[common.Address]int, 8),
	}
	if c.gasLimit == 0 {
		c.gasLimit = 400_000
	}
	if c.router == (common.Address{}) || c.quote == (common.Address{}) {
		return nil, errors.New("chain executor: router and quote addresses are required")
	}

	if pk := strings.TrimSpace(cfg.Chain.WalletPK); pk != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(pk, "0x"))
		if err != nil {
			return nil, err
		}
		c.priv = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
		c.chainID, err = ec.ChainID(context.Background())
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Chain) Submit(ctx context.Context, req types.ExecRequest) (types.ExecResult, error) {
	if c.priv == nil {
		return types.ExecResult{}, fmt.Errorf("no private key configured: %w", types.ErrExecution)
	}
	opp := req.Opp
	quoteDec, err := c.fetchDecimals(ctx, c.quote)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("quote decimals: %w", err)
	}
	inWei := toWei(opp.SizeUSD, quoteDec)

	path := []common.Address{c.quote, opp.Subject}
	expectQty := 0.0
	if opp.EntryPriceUSD > 0 {
		expectQty = opp.SizeUSD / opp.EntryPriceUSD
	}
	subjDec, err := c.fetchDecimals(ctx, opp.Subject)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("subject decimals: %w", err)
	}
	// 2% floor below the quoted output.
	minOut := toWei(expectQty*0.98, subjDec)

	deadline := big.NewInt(time.Now().Add(5 * time.Minute).Unix())
	data, _ := c.abi.Pack("swapExactTokensForTokens", inWei, minOut, path, c.recipient, deadline)

	txHash, err := c.sendSwap(ctx, data)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("%v: %w", err, types.ErrExecution)
	}

	c.log.Info("swap submitted",
		zap.String("tx", txHash),
		zap.String("subject", opp.Subject.Hex()),
		zap.Float64("size_usd", opp.SizeUSD),
	)
	return types.ExecResult{
		Success:    true,
		TxHash:     txHash,
		EntryPrice: opp.EntryPriceUSD,
		Quantity:   expectQty,
	}, nil
}

// Price quotes one base unit of the subject into the quote token.
func (c *Chain) Price(ctx context.Context, subject common.Address) (float64, error) {
	subjDec, err := c.fetchDecimals(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, types.ErrStaleData)
	}
	quoteDec, err := c.fetchDecimals(ctx, c.quote)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, types.ErrStaleData)
	}

	one := toWei(1.0, subjDec)
	path := []common.Address{subject, c.quote}
	data, _ := c.abi.Pack("getAmountsOut", one, path)
	raw, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.router, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, types.ErrStaleData)
	}
	outs, err := c.abi.Methods["getAmountsOut"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return 0, fmt.Errorf("decode getAmountsOut: %w", types.ErrStaleData)
	}
	amounts := outs[0].([]*big.Int)
	if len(amounts) < 2 {
		return 0, fmt.Errorf("bad amounts length: %w", types.ErrStaleData)
	}
	return toFloat(amounts[len(amounts)-1], quoteDec), nil
}

// Balance reads the recipient's ERC-20 holding of the subject.
func (c *Chain) Balance(ctx context.Context, subject common.Address) (float64, error) {
	dec, err := c.fetchDecimals(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, types.ErrStaleData)
	}
	data, _ := c.erc20.Pack("balanceOf", c.recipient)
	raw, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &subject, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, types.ErrStaleData)
	}
	outs, err := c.erc20.Methods["balanceOf"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return 0, fmt.Errorf("decode balanceOf: %w", types.ErrStaleData)
	}
	return toFloat(outs[0].(*big.Int), dec), nil
}

func (c *Chain) fetchDecimals(ctx context.Context, token common.Address) (int, error) {
	c.decMu.RLock()
	if d, ok := c.decimals[token]; ok {
		c.decMu.RUnlock()
		return d, nil
	}
	c.decMu.RUnlock()

	data, _ := c.erc20.Pack("decimals")
	raw, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	outs, err := c.erc20.Methods["decimals"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return 0, errors.New("decode decimals")
	}
	var d int
	switch x := outs[0].(type) {
	case uint8:
		d = int(x)
	case *big.Int:
		d = int(x.Int64())
	default:
		return 0, errors.New("unexpected decimals type")
	}
	c.decMu.Lock()
	c.decimals[token] = d
	c.decMu.Unlock()
	return d, nil
}

func (c *Chain) sendSwap(ctx context.Context, data []byte) (string, error) {
	tip, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = big.NewInt(2_000_000_000)
	}
	var baseFee *big.Int
	if h, _ := c.ec.HeaderByNumber(ctx, nil); h != nil && h.BaseFee != nil {
		baseFee = h.BaseFee
	} else if sp, _ := c.ec.SuggestGasPrice(ctx); sp != nil {
		baseFee = sp
	} else {
		baseFee = big.NewInt(5_000_000_000)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	nonce, err := c.ec.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", err
	}
	gas, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.router, Data: data})
	if err != nil || gas == 0 {
		gas = c.gasLimit
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &c.router,
		Gas:       gas,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
		Value:     big.NewInt(0),
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.priv)
	if err != nil {
		return "", err
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func toWei(x float64, decimals int) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(x), big.NewFloat(math.Pow10(decimals)))
	out := new(big.Int)
	f.Int(out)
	return out
}

func toFloat(x *big.Int, decimals int) float64 {
	if x == nil {
		return 0
	}
	f := new(big.Float).SetInt(x)
	f.Quo(f, big.NewFloat(math.Pow10(decimals)))
	val, _ := f.Float64()
	return val
}
