package report

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T, s string) common.Hash {
	t.Helper()
	id, err := ParseID(s)
	require.NoError(t, err)
	return id
}

func scaled(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []ReserveReport{
		{
			PoolID:    mustID(t, "AURA_POOL"),
			AssetID:   mustID(t, "AURA_ASSET"),
			NAV:       scaled(1),
			Reserve:   scaled(1_000_000),
			Timestamp: 1_700_000_000,
			ReportID:  TimestampReportID(1_700_000_000),
		},
		{
			PoolID:    common.HexToHash("0x01"),
			AssetID:   common.HexToHash("0x02"),
			NAV:       big.NewInt(0),
			Reserve:   new(big.Int).Set(maxUint256),
			Timestamp: ^uint64(0),
			ReportID:  common.HexToHash("0xff"),
		},
	}

	for _, want := range cases {
		encoded, err := Encode(want)
		require.NoError(t, err)
		require.Len(t, encoded, Size)

		got, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, want.PoolID, got.PoolID)
		assert.Equal(t, want.AssetID, got.AssetID)
		assert.Equal(t, 0, want.NAV.Cmp(got.NAV))
		assert.Equal(t, 0, want.Reserve.Cmp(got.Reserve))
		assert.Equal(t, want.Timestamp, got.Timestamp)
		assert.Equal(t, want.ReportID, got.ReportID)

		again, err := Encode(got)
		require.NoError(t, err)
		assert.Equal(t, encoded, again, "encoding must be deterministic")
	}
}

func TestEncodeLayoutIsBigEndianWords(t *testing.T) {
	r := ReserveReport{
		PoolID:    mustID(t, "P"),
		AssetID:   mustID(t, "A"),
		NAV:       big.NewInt(0x0102),
		Reserve:   big.NewInt(7),
		Timestamp: 9,
		ReportID:  mustID(t, "R"),
	}
	encoded, err := Encode(r)
	require.NoError(t, err)

	assert.Equal(t, byte('P'), encoded[0])
	assert.Equal(t, byte('A'), encoded[32])
	assert.Equal(t, []byte{0x01, 0x02}, encoded[94:96])
	assert.Equal(t, byte(7), encoded[127])
	assert.Equal(t, byte(9), encoded[159])
	assert.Equal(t, byte('R'), encoded[160])
}

func TestEncodeRejectsInvalidValues(t *testing.T) {
	base := ReserveReport{NAV: big.NewInt(1), Reserve: big.NewInt(1)}

	negative := base
	negative.NAV = big.NewInt(-1)
	_, err := Encode(negative)
	require.ErrorIs(t, err, ErrInvalidValue)

	missing := base
	missing.Reserve = nil
	_, err = Encode(missing)
	require.ErrorIs(t, err, ErrInvalidValue)

	tooWide := base
	tooWide.Reserve = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = Encode(tooWide)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, n := range []int{0, 2, 31, Size - 1, Size + 1, 2 * Size} {
		_, err := Decode(make([]byte, n))
		require.ErrorIs(t, err, ErrMalformed, "length %d", n)
	}

	overflowTS := make([]byte, Size)
	overflowTS[4*32] = 0x01
	_, err := Decode(overflowTS)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTimestampReportID(t *testing.T) {
	id := TimestampReportID(1234)
	assert.Equal(t, "navpor:1234", string(id[:11]))
	for _, b := range id[11:] {
		assert.Zero(t, b)
	}

	assert.Equal(t, TimestampReportID(1234), TimestampReportID(1234))
	assert.NotEqual(t, TimestampReportID(1234), TimestampReportID(1235))
}

func TestContentReportIDDistinguishesPools(t *testing.T) {
	a := ReserveReport{PoolID: mustID(t, "POOL_A"), AssetID: mustID(t, "X"), NAV: scaled(1), Reserve: scaled(1), Timestamp: 100}
	b := a
	b.PoolID = mustID(t, "POOL_B")

	idA, err := ContentReportID(a)
	require.NoError(t, err)
	idB, err := ContentReportID(b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	a.ReportID = idA
	again, err := ContentReportID(a)
	require.NoError(t, err)
	assert.Equal(t, idA, again, "existing report id must not affect the content id")
}

func TestReportIDFunc(t *testing.T) {
	fn, err := ReportIDFunc("")
	require.NoError(t, err)
	id, err := fn(ReserveReport{Timestamp: 5})
	require.NoError(t, err)
	assert.Equal(t, TimestampReportID(5), id)

	_, err = ReportIDFunc("random")
	require.Error(t, err)
}

func TestParseID(t *testing.T) {
	label, err := ParseID("AURA_POOL")
	require.NoError(t, err)
	assert.Equal(t, "0x415552415f504f4f4c0000000000000000000000000000000000000000000000", label.Hex())

	hexID, err := ParseID("0x415552415f415353455400000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "AURA_ASSET", string(hexID[:10]))

	for _, bad := range []string{"", "0x1234", "0xzz", "THIS_LABEL_IS_DEFINITELY_LONGER_THAN_32_BYTES"} {
		_, err := ParseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestAttestAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	attestor := NewAttestorFromKey(key)

	encoded, err := Encode(ReserveReport{NAV: scaled(1), Reserve: scaled(2), Timestamp: 42})
	require.NoError(t, err)

	sig, err := attestor.Attest(encoded)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)

	signer, err := RecoverSigner(encoded, sig)
	require.NoError(t, err)
	assert.Equal(t, attestor.Address(), signer)

	tampered := append([]byte(nil), encoded...)
	tampered[100] ^= 0xff
	other, err := RecoverSigner(tampered, sig)
	if err == nil {
		assert.NotEqual(t, attestor.Address(), other)
	}

	_, err = RecoverSigner(encoded, []byte{0x01})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestFormatScaled(t *testing.T) {
	assert.Equal(t, "1", FormatScaled(scaled(1)))
	assert.Equal(t, "0.5", FormatScaled(big.NewInt(500_000_000_000_000_000)))
	assert.Equal(t, "-", FormatScaled(nil))
}
