package backend

import (
	"context"
	"fmt"
)

// EsploraBackend implements Backend using the Esplora API (blockstream.info).
// Esplora shares the mempool.space transaction endpoints and differs only in
// fee estimation.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates a new Esplora backend.
func NewEsploraBackend(baseURL string, opts ...Option) *EsploraBackend {
	return &EsploraBackend{
		MempoolBackend: NewMempoolBackend(baseURL, opts...),
	}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// GetFeeRate returns the estimate for a one block target. Esplora keys its
// estimates by confirmation target.
func (e *EsploraBackend) GetFeeRate(ctx context.Context) (float64, error) {
	var result map[string]float64
	if err := e.get(ctx, "/fee-estimates", &result); err != nil {
		return 0, err
	}
	for _, target := range []string{"1", "2", "3"} {
		if rate, ok := result[target]; ok && rate > 0 {
			return rate, nil
		}
	}
	return 0, fmt.Errorf("no fee estimate in response")
}

var _ Backend = (*EsploraBackend)(nil)
