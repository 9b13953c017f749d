package preimage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/klingon-exchange/swapcore/internal/backend"
	"github.com/klingon-exchange/swapcore/internal/bitcoin"
	"github.com/klingon-exchange/swapcore/internal/chain"
	"github.com/klingon-exchange/swapcore/internal/elements"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// DefaultPollInterval is how often a Watcher asks its source whether the
// watched output has been spent.
const DefaultPollInterval = 30 * time.Second

var (
	// ErrSpentWithoutPreimage is returned when the watched output was spent
	// by a transaction that does not reveal the preimage, usually a refund.
	ErrSpentWithoutPreimage = errors.New("output spent without revealing the preimage")
)

// Source is the chain data a Watcher needs. Every backend.Backend is a
// Source.
type Source interface {
	GetOutspend(ctx context.Context, txID string, vout uint32) (*backend.Outspend, error)
	GetRawTransaction(ctx context.Context, txID string) ([]byte, error)
}

// Reveal describes where a preimage was found.
type Reveal struct {
	Preimage   lntypes.Preimage
	TxID       string
	InputIndex int
}

// Watcher polls a chain source until a swap output is claimed and returns
// the preimage the claim revealed.
type Watcher struct {
	source   Source
	symbol   chain.Symbol
	interval time.Duration
	log      *logging.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger used for poll results.
func WithLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher creates a watcher for outputs on the chain identified by
// symbol.
func NewWatcher(source Source, symbol chain.Symbol, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:   source,
		symbol:   symbol,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logging.OrNop(w.log)
	return w
}

// Wait blocks until the output txID:vout is spent and returns the preimage
// of hash revealed by the spending input. It returns ctx.Err() when the
// context ends first.
func (w *Watcher) Wait(ctx context.Context, txID string, vout uint32, hash []byte) (*Reveal, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		reveal, err := w.Check(ctx, txID, vout, hash)
		switch {
		case errors.Is(err, ErrSpentWithoutPreimage):
			return nil, err
		case err != nil:
			w.log.Debug("Outspend check failed", "chain", w.symbol, "txid", txID, "vout", vout, "error", err)
		case reveal != nil:
			w.log.Info("Preimage revealed", "chain", w.symbol, "txid", reveal.TxID, "input", reveal.InputIndex)
			return reveal, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Check asks the source once. It returns nil, nil while the output is
// unspent.
func (w *Watcher) Check(ctx context.Context, txID string, vout uint32, hash []byte) (*Reveal, error) {
	spend, err := w.source.GetOutspend(ctx, txID, vout)
	if err != nil {
		return nil, err
	}
	if !spend.Spent {
		return nil, nil
	}

	raw, err := w.source.GetRawTransaction(ctx, spend.TxID)
	if err != nil {
		return nil, fmt.Errorf("fetch spending transaction %s: %w", spend.TxID, err)
	}

	p, idx, err := w.extract(raw, hash)
	if err != nil {
		return nil, err
	}
	return &Reveal{Preimage: p, TxID: spend.TxID, InputIndex: idx}, nil
}

func (w *Watcher) extract(raw []byte, hash []byte) (lntypes.Preimage, int, error) {
	var (
		p   lntypes.Preimage
		idx int
		ok  bool
	)
	if w.symbol.IsLiquid() {
		tx, err := elements.DeserializeTx(hex.EncodeToString(raw))
		if err != nil {
			return p, -1, err
		}
		p, idx, ok = FindInElementsTx(tx, hash)
	} else {
		tx, err := bitcoin.DeserializeTx(hex.EncodeToString(raw))
		if err != nil {
			return p, -1, err
		}
		p, idx, ok = FindInBitcoinTx(tx, hash)
	}
	if !ok {
		return p, -1, ErrSpentWithoutPreimage
	}
	return p, idx, nil
}
