package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/you/mev-bot/internal/types"
)

// Update is one decoded message from the stream. Exactly one field is
// non-nil.
type Update struct {
	Event *types.MarketEvent
	Gas   *types.GasContext
	Pool  *PoolUpdate
}

type PoolUpdate struct {
	Addr  common.Address
	State types.PoolState
}

// wire format of the upstream stream service
type wireMsg struct {
	Type string `json:"type"`

	// pending_swap / token_launch / pool
	Pool   string `json:"pool,omitempty"`
	Token  string `json:"token,omitempty"`
	Trader string `json:"trader,omitempty"`
	TsMs   int64  `json:"ts_ms,omitempty"`

	AmountIn float64 `json:"amount_in,omitempty"`

	Verified        bool    `json:"verified,omitempty"`
	MintRenounced   bool    `json:"mint_renounced,omitempty"`
	SupplyCapped    bool    `json:"supply_capped,omitempty"`
	LiquidityLocked bool    `json:"liquidity_locked,omitempty"`
	Volatility      float64 `json:"volatility,omitempty"`

	PriceGwei     float64 `json:"price_gwei,omitempty"`
	EthUSD        float64 `json:"eth_usd,omitempty"`
	CongestionPct float64 `json:"congestion_pct,omitempty"`

	ReserveIn    float64 `json:"reserve_in,omitempty"`
	ReserveOut   float64 `json:"reserve_out,omitempty"`
	LiquidityUSD float64 `json:"liquidity_usd,omitempty"`
}

type WS struct {
	URL    string
	Dialer *websocket.Dialer
	conn   *websocket.Conn
	mu     sync.Mutex
}

func NewWS(url string) *WS {
	return &WS{
		URL: strings.TrimRight(url, "/"),
		Dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
	}
}

func (w *WS) connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}
	c, _, err := w.Dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return err
	}
	w.conn = c

	_ = w.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	return nil
}

func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// Subscribe opens the stream and returns decoded updates. The channel
// closes when the connection drops or ctx is cancelled.
func (w *WS) Subscribe(ctx context.Context) (<-chan Update, error) {
	if err := w.connect(ctx); err != nil {
		return nil, err
	}

	sub := struct {
		ID     int      `json:"id"`
		Method string   `json:"method"`
		Params []string `json:"params"`
	}{ID: 1, Method: "SUBSCRIBE", Params: []string{
		"mempool.pending", "tokens.launches", "gas.context", "pools.reserves",
	}}
	if err := w.conn.WriteJSON(sub); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Update, 1024)

	go func() {
		defer close(out)
		defer w.Close()

		pingStop := make(chan struct{})
		go func() {
			t := time.NewTicker(20 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-pingStop:
					return
				case <-t.C:
					_ = w.conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"PING"}`))
				}
			}
		}()
		defer close(pingStop)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, data, err := w.conn.ReadMessage()
			if err != nil {
				return
			}
			_ = w.conn.SetReadDeadline(time.Now().Add(90 * time.Second))

			var m wireMsg
			if json.Unmarshal(data, &m) != nil || m.Type == "" {
				// subscription acks and pongs land here
				continue
			}
			if u, ok := decode(m); ok {
				out <- u
			}
		}
	}()

	return out, nil
}

func decode(m wireMsg) (Update, bool) {
	switch m.Type {
	case "pending_swap":
		if m.Pool == "" || m.AmountIn <= 0 {
			return Update{}, false
		}
		return Update{Event: &types.MarketEvent{
			Kind: types.EventPendingSwap,
			Swap: &types.PendingSwap{
				Pool:     common.HexToAddress(m.Pool),
				Token:    common.HexToAddress(m.Token),
				AmountIn: m.AmountIn,
				Trader:   common.HexToAddress(m.Trader),
				Ts:       time.UnixMilli(m.TsMs),
			},
		}}, true
	case "token_launch":
		if m.Token == "" {
			return Update{}, false
		}
		return Update{Event: &types.MarketEvent{
			Kind: types.EventTokenLaunch,
			Launch: &types.TokenLaunch{
				Token: common.HexToAddress(m.Token),
				Pool:  common.HexToAddress(m.Pool),
				Security: types.SecurityReport{
					ContractVerified: m.Verified,
					MintRenounced:    m.MintRenounced,
					SupplyCapped:     m.SupplyCapped,
					LiquidityLocked:  m.LiquidityLocked,
				},
				Volatility: m.Volatility,
				Ts:         time.UnixMilli(m.TsMs),
			},
		}}, true
	case "gas":
		return Update{Gas: &types.GasContext{
			PriceGwei:     m.PriceGwei,
			EthUSD:        m.EthUSD,
			CongestionPct: m.CongestionPct,
		}}, true
	case "pool":
		if m.Pool == "" {
			return Update{}, false
		}
		return Update{Pool: &PoolUpdate{
			Addr: common.HexToAddress(m.Pool),
			State: types.PoolState{
				ReserveIn:    m.ReserveIn,
				ReserveOut:   m.ReserveOut,
				LiquidityUSD: m.LiquidityUSD,
				EthUSD:       m.EthUSD,
			},
		}}, true
	}
	return Update{}, false
}
