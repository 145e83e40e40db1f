package report

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Size is the length of a canonical report: six 32-byte words.
const Size = 6 * 32

var (
	// ErrMalformed indicates bytes that do not match the canonical six-word layout.
	ErrMalformed = errors.New("report: malformed payload")
	// ErrInvalidValue indicates a field that cannot be represented as an unsigned 256-bit word.
	ErrInvalidValue = errors.New("report: invalid value")
)

var (
	canonicalArgs abi.Arguments
	maxUint256    = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func init() {
	bytes32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic("failed to build bytes32 abi type: " + err.Error())
	}
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic("failed to build uint256 abi type: " + err.Error())
	}
	canonicalArgs = abi.Arguments{
		{Name: "poolId", Type: bytes32},
		{Name: "assetId", Type: bytes32},
		{Name: "nav", Type: uint256},
		{Name: "reserve", Type: uint256},
		{Name: "timestamp", Type: uint256},
		{Name: "reportId", Type: bytes32},
	}
}

// ReserveReport carries one NAV/PoR observation for a pool/asset pair.
// NAV and Reserve are 18-decimal fixed-point values.
type ReserveReport struct {
	PoolID    common.Hash
	AssetID   common.Hash
	NAV       *big.Int
	Reserve   *big.Int
	Timestamp uint64
	ReportID  common.Hash
}

// Encode renders the report in its canonical 192-byte big-endian layout
// [poolId, assetId, nav, reserve, timestamp, reportId].
func Encode(r ReserveReport) ([]byte, error) {
	if err := checkWord("nav", r.NAV); err != nil {
		return nil, err
	}
	if err := checkWord("reserve", r.Reserve); err != nil {
		return nil, err
	}

	out, err := canonicalArgs.Pack(
		[32]byte(r.PoolID),
		[32]byte(r.AssetID),
		r.NAV,
		r.Reserve,
		new(big.Int).SetUint64(r.Timestamp),
		[32]byte(r.ReportID),
	)
	if err != nil {
		return nil, fmt.Errorf("pack report: %w", err)
	}
	if len(out) != Size {
		return nil, fmt.Errorf("pack report: unexpected length %d", len(out))
	}
	return out, nil
}

// Decode parses a canonical report. Any deviation from the fixed layout
// yields ErrMalformed.
func Decode(data []byte) (ReserveReport, error) {
	if len(data) != Size {
		return ReserveReport{}, fmt.Errorf("%w: length %d, want %d", ErrMalformed, len(data), Size)
	}

	values, err := canonicalArgs.Unpack(data)
	if err != nil {
		return ReserveReport{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(values) != len(canonicalArgs) {
		return ReserveReport{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(values))
	}

	poolID, ok1 := values[0].([32]byte)
	assetID, ok2 := values[1].([32]byte)
	nav, ok3 := values[2].(*big.Int)
	reserve, ok4 := values[3].(*big.Int)
	ts, ok5 := values[4].(*big.Int)
	reportID, ok6 := values[5].([32]byte)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return ReserveReport{}, fmt.Errorf("%w: unexpected field types", ErrMalformed)
	}
	if !ts.IsUint64() {
		return ReserveReport{}, fmt.Errorf("%w: timestamp out of range", ErrMalformed)
	}

	return ReserveReport{
		PoolID:    poolID,
		AssetID:   assetID,
		NAV:       nav,
		Reserve:   reserve,
		Timestamp: ts.Uint64(),
		ReportID:  reportID,
	}, nil
}

func checkWord(field string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: %s missing", ErrInvalidValue, field)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s negative", ErrInvalidValue, field)
	}
	if v.Cmp(maxUint256) > 0 {
		return fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidValue, field)
	}
	return nil
}
