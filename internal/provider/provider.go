package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Provider supplies the current NAV and reserve for a pool/asset pair, both
// as 18-decimal fixed-point values. Implementations must not mutate shared
// oracle state.
type Provider interface {
	FetchLatest(ctx context.Context, poolID, assetID common.Hash) (nav, reserve *big.Int, err error)
}

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
