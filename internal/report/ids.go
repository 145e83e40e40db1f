package report

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const reportIDPrefix = "navpor:"

// Scale is the fixed-point exponent of NAV and reserve values.
const Scale = 18

// ID scheme names accepted by ReportIDFunc.
const (
	IDSchemeTimestamp = "timestamp"
	IDSchemeContent   = "content"
)

// ParseID decodes a 32-byte identifier. 0x-prefixed values must be exactly
// 64 hex digits; anything else is treated as a short ASCII label and
// right-padded with zero bytes, matching Solidity's bytes32 string encoding.
func ParseID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Hash{}, fmt.Errorf("empty identifier")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return common.Hash{}, fmt.Errorf("decode identifier %q: %w", s, err)
		}
		if len(raw) != common.HashLength {
			return common.Hash{}, fmt.Errorf("identifier %q has %d bytes, want %d", s, len(raw), common.HashLength)
		}
		return common.BytesToHash(raw), nil
	}
	if len(s) > common.HashLength {
		return common.Hash{}, fmt.Errorf("identifier label %q longer than %d bytes", s, common.HashLength)
	}
	var id common.Hash
	copy(id[:], s)
	return id, nil
}

// TimestampReportID derives the report id from "navpor:<timestamp>",
// right-padded with zeros and truncated to 32 bytes. Two pools reporting in
// the same second share an id under this scheme.
func TimestampReportID(ts uint64) common.Hash {
	var id common.Hash
	copy(id[:], reportIDPrefix+strconv.FormatUint(ts, 10))
	return id
}

// ContentReportID hashes the canonical encoding of r with a zeroed report id.
func ContentReportID(r ReserveReport) (common.Hash, error) {
	r.ReportID = common.Hash{}
	encoded, err := Encode(r)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// ReportIDFunc returns the id derivation for the named scheme.
func ReportIDFunc(scheme string) (func(ReserveReport) (common.Hash, error), error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", IDSchemeTimestamp:
		return func(r ReserveReport) (common.Hash, error) {
			return TimestampReportID(r.Timestamp), nil
		}, nil
	case IDSchemeContent:
		return ContentReportID, nil
	default:
		return nil, fmt.Errorf("unknown report id scheme %q", scheme)
	}
}

// FormatScaled renders an 18-decimal fixed-point value for humans.
func FormatScaled(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromBigInt(v, -Scale).String()
}

// ToDecimal converts an 18-decimal fixed-point value to a decimal.
func ToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -Scale)
}
