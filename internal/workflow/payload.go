package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"aura-oracle/internal/report"
)

var (
	// ErrValidation marks a missing or malformed trigger payload field.
	ErrValidation = errors.New("workflow: invalid payload")
	// ErrConfiguration marks an unresolvable network or target.
	ErrConfiguration = errors.New("workflow: configuration error")
)

// TriggerPayload is the validated trigger input. Optional fields are nil
// when the caller left them out.
type TriggerPayload struct {
	NAV       *big.Int
	Reserve   *big.Int
	Timestamp *uint64
	PoolID    *common.Hash
	AssetID   *common.Hash
}

type rawPayload struct {
	NAV       *string         `json:"nav"`
	Reserve   *string         `json:"reserve"`
	Timestamp json.RawMessage `json:"timestamp"`
	PoolID    *string         `json:"poolId"`
	AssetID   *string         `json:"assetId"`
}

// ParsePayload validates a JSON trigger payload of the form
// {"nav": "...", "reserve": "...", "timestamp"?: n, "poolId"?: "0x..", "assetId"?: "0x.."}.
// nav and reserve are non-negative base-10 integers already scaled to 18
// decimals.
func ParsePayload(raw []byte) (TriggerPayload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return TriggerPayload{}, fmt.Errorf("%w: trigger payload is required", ErrValidation)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var in rawPayload
	if err := dec.Decode(&in); err != nil {
		return TriggerPayload{}, fmt.Errorf("%w: decode json: %v", ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return TriggerPayload{}, fmt.Errorf("%w: trailing data after payload", ErrValidation)
	}

	var (
		out TriggerPayload
		err error
	)
	if out.NAV, err = parseAmount("nav", in.NAV); err != nil {
		return TriggerPayload{}, err
	}
	if out.Reserve, err = parseAmount("reserve", in.Reserve); err != nil {
		return TriggerPayload{}, err
	}
	if out.Timestamp, err = parseTimestamp(in.Timestamp); err != nil {
		return TriggerPayload{}, err
	}
	if out.PoolID, err = parseOptionalID("poolId", in.PoolID); err != nil {
		return TriggerPayload{}, err
	}
	if out.AssetID, err = parseOptionalID("assetId", in.AssetID); err != nil {
		return TriggerPayload{}, err
	}
	return out, nil
}

func parseAmount(field string, raw *string) (*big.Int, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrValidation, field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q is not an integer", ErrValidation, field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be non-negative", ErrValidation, field)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrValidation, field)
	}
	return v, nil
}

// parseTimestamp accepts a bare JSON number only; quoted numbers are rejected.
func parseTimestamp(raw json.RawMessage) (*uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return nil, fmt.Errorf("%w: timestamp must be a JSON number", ErrValidation)
	}
	ts, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %s must be a non-negative integer", ErrValidation, raw)
	}
	return &ts, nil
}

func parseOptionalID(field string, raw *string) (*common.Hash, error) {
	if raw == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("%w: %s must be 0x-prefixed 32-byte hex", ErrValidation, field)
	}
	id, err := report.ParseID(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrValidation, field, err)
	}
	return &id, nil
}
