package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/swapcore/pkg/logging"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// BlockWatcher streams new block heights from the mempool.space websocket
// API.
type BlockWatcher struct {
	url    string
	dialer *websocket.Dialer
	log    *logging.Logger
}

// NewBlockWatcher creates a watcher for the websocket endpoint at url,
// e.g. wss://mempool.space/api/v1/ws.
func NewBlockWatcher(url string, log *logging.Logger) *BlockWatcher {
	return &BlockWatcher{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    logging.OrNop(log),
	}
}

type wsWant struct {
	Action string   `json:"action"`
	Data   []string `json:"data"`
}

type wsBlock struct {
	Height int64 `json:"height"`
}

type wsMessage struct {
	Block  *wsBlock  `json:"block"`
	Blocks []wsBlock `json:"blocks"`
}

// Subscribe connects and returns a channel of block heights. The tip is
// sent first. The channel is closed when ctx ends or the connection drops.
func (w *BlockWatcher) Subscribe(ctx context.Context) (<-chan int64, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.url, err)
	}
	if err := conn.WriteJSON(wsWant{Action: "want", Data: []string{"blocks"}}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to blocks: %w", err)
	}

	heights := make(chan int64, 8)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					w.log.Debug("Websocket ping failed", "error", err)
				}
			}
		}
	}()

	go func() {
		defer close(heights)
		defer close(done)
		defer conn.Close()

		var last int64
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					w.log.Debug("Websocket read error", "error", err)
				}
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				w.log.Debug("Ignoring websocket message", "error", err)
				continue
			}

			height := tipHeight(msg)
			if height <= last {
				continue
			}
			last = height

			select {
			case heights <- height:
			case <-ctx.Done():
				return
			}
		}
	}()

	return heights, nil
}

func tipHeight(msg wsMessage) int64 {
	var tip int64
	if msg.Block != nil {
		tip = msg.Block.Height
	}
	for _, b := range msg.Blocks {
		if b.Height > tip {
			tip = b.Height
		}
	}
	return tip
}
