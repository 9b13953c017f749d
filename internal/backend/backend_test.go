package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/swapcore/internal/chain"
)

func TestDefaultConfigs(t *testing.T) {
	tests := []struct {
		network chain.Network
		symbols []chain.Symbol
	}{
		{chain.Mainnet, []chain.Symbol{chain.BTC, chain.LBTC}},
		{chain.Testnet, []chain.Symbol{chain.BTC, chain.LBTC}},
		{chain.Signet, []chain.Symbol{chain.BTC}},
		{chain.Regtest, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.network), func(t *testing.T) {
			configs := DefaultConfigs(tt.network)
			if len(configs) != len(tt.symbols) {
				t.Fatalf("got %d configs, want %d", len(configs), len(tt.symbols))
			}
			for _, s := range tt.symbols {
				cfg, ok := configs[s]
				if !ok {
					t.Fatalf("missing config for %s", s)
				}
				if cfg.Type != TypeMempool {
					t.Errorf("%s: type = %s, want mempool", s, cfg.Type)
				}
				if !strings.HasPrefix(cfg.URL, "https://") {
					t.Errorf("%s: url = %s", s, cfg.URL)
				}
				if !strings.HasPrefix(cfg.WebsocketURL, "wss://") {
					t.Errorf("%s: websocket = %s", s, cfg.WebsocketURL)
				}
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		wantType Type
		wantErr  error
	}{
		{"mempool", &Config{Type: TypeMempool, URL: "http://localhost"}, TypeMempool, nil},
		{"default type", &Config{URL: "http://localhost"}, TypeMempool, nil},
		{"esplora", &Config{Type: TypeEsplora, URL: "http://localhost"}, TypeEsplora, nil},
		{"jsonrpc", &Config{Type: TypeJSONRPC, URL: "http://localhost:18443"}, TypeJSONRPC, nil},
		{"unknown", &Config{Type: "electrum", URL: "tcp://localhost"}, "", ErrUnsupportedBackend},
		{"no url", &Config{Type: TypeMempool}, "", ErrNoBackend},
		{"nil", nil, "", ErrNoBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if b.Type() != tt.wantType {
				t.Errorf("Type() = %s, want %s", b.Type(), tt.wantType)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistryFromConfigs(DefaultConfigs(chain.Mainnet), nil)
	if err != nil {
		t.Fatalf("NewRegistryFromConfigs: %v", err)
	}

	list := r.List()
	if len(list) != 2 || list[0] != chain.BTC || list[1] != chain.LBTC {
		t.Errorf("List() = %v", list)
	}
	if _, err := r.Get(chain.LBTC); err != nil {
		t.Errorf("Get(L-BTC): %v", err)
	}

	empty := NewRegistry()
	if _, err := empty.Get(chain.BTC); !errors.Is(err, ErrNoBackend) {
		t.Errorf("Get on empty registry: err = %v", err)
	}
}

func TestMempoolTrailingSlash(t *testing.T) {
	b := NewMempoolBackend("https://mempool.space/api/")
	if b.baseURL != "https://mempool.space/api" {
		t.Errorf("baseURL = %s, trailing slash should be removed", b.baseURL)
	}
}

// mempoolServer serves a fixed set of mempool.space endpoints.
func mempoolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tx/aa/hex", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "0200\n")
	})
	mux.HandleFunc("/tx/bb/hex", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/tx/aa/outspend/1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"spent":true,"txid":"cc","vin":2,"status":{"confirmed":true,"block_height":812}}`)
	})
	mux.HandleFunc("/tx/aa/outspend/0", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"spent":false}`)
	})
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "840000")
	})
	mux.HandleFunc("/v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"fastestFee":12,"halfHourFee":8,"hourFee":5,"economyFee":2,"minimumFee":1}`)
	})
	mux.HandleFunc("/fee-estimates", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"1":0.1,"6":0.1,"144":0.1}`)
	})
	mux.HandleFunc("/tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if string(body) == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "sendrawtransaction RPC error: TX decode failed")
			return
		}
		io.WriteString(w, "dd")
	})
	mux.HandleFunc("/limited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMempoolBackend(t *testing.T) {
	srv := mempoolServer(t)
	b := NewMempoolBackend(srv.URL)
	ctx := context.Background()

	raw, err := b.GetRawTransaction(ctx, "aa")
	if err != nil {
		t.Fatalf("GetRawTransaction: %v", err)
	}
	if len(raw) != 2 || raw[0] != 0x02 || raw[1] != 0x00 {
		t.Errorf("raw = %x", raw)
	}

	if _, err := b.GetRawTransaction(ctx, "bb"); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("missing tx: err = %v, want ErrTxNotFound", err)
	}

	spend, err := b.GetOutspend(ctx, "aa", 1)
	if err != nil {
		t.Fatalf("GetOutspend: %v", err)
	}
	if !spend.Spent || spend.TxID != "cc" || spend.Vin != 2 || !spend.Confirmed || spend.BlockHeight != 812 {
		t.Errorf("outspend = %+v", spend)
	}

	unspent, err := b.GetOutspend(ctx, "aa", 0)
	if err != nil {
		t.Fatalf("GetOutspend: %v", err)
	}
	if unspent.Spent {
		t.Error("output 0 should be unspent")
	}

	height, err := b.GetBlockHeight(ctx)
	if err != nil {
		t.Fatalf("GetBlockHeight: %v", err)
	}
	if height != 840000 {
		t.Errorf("height = %d", height)
	}

	rate, err := b.GetFeeRate(ctx)
	if err != nil {
		t.Fatalf("GetFeeRate: %v", err)
	}
	if rate != 12 {
		t.Errorf("rate = %v, want 12", rate)
	}

	txid, err := b.BroadcastTransaction(ctx, "0200")
	if err != nil {
		t.Fatalf("BroadcastTransaction: %v", err)
	}
	if txid != "dd" {
		t.Errorf("txid = %s", txid)
	}

	_, err = b.BroadcastTransaction(ctx, "bad")
	if !errors.Is(err, ErrBroadcastFailed) {
		t.Errorf("bad broadcast: err = %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "TX decode failed") {
		t.Errorf("broadcast error should carry the node message: %v", err)
	}

	var dummy struct{}
	if err := b.get(ctx, "/limited", &dummy); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestEsploraFeeRate(t *testing.T) {
	srv := mempoolServer(t)
	b := NewEsploraBackend(srv.URL)

	rate, err := b.GetFeeRate(context.Background())
	if err != nil {
		t.Fatalf("GetFeeRate: %v", err)
	}
	if rate != 0.1 {
		t.Errorf("rate = %v, want 0.1", rate)
	}
	if b.Type() != TypeEsplora {
		t.Errorf("Type() = %s", b.Type())
	}
}

// rpcServer answers bitcoind style requests from a method table.
func rpcServer(t *testing.T, handlers map[string]func(params []json.RawMessage) (interface{}, *rpcErrorBody)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			ID     string            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		resp := map[string]interface{}{"id": req.ID, "result": nil, "error": nil}
		h, ok := handlers[req.Method]
		if !ok {
			resp["error"] = rpcErrorBody{Code: -32601, Message: "Method not found"}
		} else {
			result, rpcErr := h(req.Params)
			if rpcErr != nil {
				resp["error"] = rpcErr
				w.WriteHeader(http.StatusInternalServerError)
			} else {
				resp["result"] = result
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func TestJSONRPCBackend(t *testing.T) {
	srv := rpcServer(t, map[string]func([]json.RawMessage) (interface{}, *rpcErrorBody){
		"getrawtransaction": func(params []json.RawMessage) (interface{}, *rpcErrorBody) {
			var txid string
			json.Unmarshal(params[0], &txid)
			if txid != "aa" {
				return nil, &rpcErrorBody{Code: -5, Message: "No such mempool or blockchain transaction"}
			}
			return "0200", nil
		},
		"gettxout": func(params []json.RawMessage) (interface{}, *rpcErrorBody) {
			var vout uint32
			json.Unmarshal(params[1], &vout)
			if vout == 0 {
				return map[string]interface{}{"confirmations": 3, "value": 0.001}, nil
			}
			return nil, nil
		},
		"getblockcount": func([]json.RawMessage) (interface{}, *rpcErrorBody) {
			return 201, nil
		},
		"estimatesmartfee": func([]json.RawMessage) (interface{}, *rpcErrorBody) {
			return map[string]interface{}{"feerate": 0.00002, "blocks": 2}, nil
		},
		"sendrawtransaction": func(params []json.RawMessage) (interface{}, *rpcErrorBody) {
			return "dd", nil
		},
	})

	b := NewJSONRPCBackend(srv.URL, "user", "pass", WithTimeout(5*time.Second))
	ctx := context.Background()

	raw, err := b.GetRawTransaction(ctx, "aa")
	if err != nil {
		t.Fatalf("GetRawTransaction: %v", err)
	}
	if len(raw) != 2 {
		t.Errorf("raw = %x", raw)
	}
	if _, err := b.GetRawTransaction(ctx, "bb"); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("missing tx: err = %v, want ErrTxNotFound", err)
	}

	spend, err := b.GetOutspend(ctx, "aa", 0)
	if err != nil {
		t.Fatalf("GetOutspend: %v", err)
	}
	if spend.Spent {
		t.Error("output 0 should be unspent")
	}
	if _, err := b.GetOutspend(ctx, "aa", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("spent output: err = %v, want ErrNotFound", err)
	}

	height, err := b.GetBlockHeight(ctx)
	if err != nil || height != 201 {
		t.Errorf("GetBlockHeight = %d, %v", height, err)
	}

	rate, err := b.GetFeeRate(ctx)
	if err != nil {
		t.Fatalf("GetFeeRate: %v", err)
	}
	if rate < 1.99 || rate > 2.01 {
		t.Errorf("rate = %v, want 2 sat/vB", rate)
	}

	txid, err := b.BroadcastTransaction(ctx, "0200")
	if err != nil || txid != "dd" {
		t.Errorf("BroadcastTransaction = %s, %v", txid, err)
	}
}

func TestJSONRPCUnknownMethod(t *testing.T) {
	srv := rpcServer(t, nil)
	b := NewJSONRPCBackend(srv.URL, "user", "pass")

	_, err := b.GetBlockHeight(context.Background())
	if !errors.Is(err, ErrRPC) {
		t.Fatalf("err = %v, want ErrRPC", err)
	}
	if !strings.Contains(err.Error(), "-32601") {
		t.Errorf("error should carry the rpc code: %v", err)
	}
}

func TestTipHeight(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want int64
	}{
		{"single block", `{"block":{"height":101}}`, 101},
		{"initial blocks", `{"blocks":[{"height":98},{"height":100},{"height":99}]}`, 100},
		{"unrelated", `{"mempoolInfo":{"size":3}}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg wsMessage
			if err := json.Unmarshal([]byte(tt.msg), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := tipHeight(msg); got != tt.want {
				t.Errorf("tipHeight = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBlockWatcher(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var want wsWant
		if err := conn.ReadJSON(&want); err != nil {
			t.Errorf("read want: %v", err)
			return
		}
		if want.Action != "want" || len(want.Data) != 1 || want.Data[0] != "blocks" {
			t.Errorf("unexpected subscription %+v", want)
		}

		for _, msg := range []string{
			`{"blocks":[{"height":99},{"height":100}]}`,
			`{"mempoolInfo":{"size":3}}`,
			`{"block":{"height":100}}`,
			`{"block":{"height":101}}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection until the client leaves.
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	heights, err := NewBlockWatcher(url, nil).Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var got []int64
	for h := range heights {
		got = append(got, h)
		if len(got) == 2 {
			cancel()
		}
	}

	if len(got) != 2 || got[0] != 100 || got[1] != 101 {
		t.Errorf("heights = %v, want [100 101]", got)
	}
}
