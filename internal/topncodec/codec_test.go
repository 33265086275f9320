package topncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		key   []byte
		epoch uint64
	}{
		{[]byte("row-1"), 0},
		{[]byte("row-1"), 18446744073709551614},
		{[]byte{}, 42},
		{[]byte("contains-a-dash-already"), 7},
	}
	for _, c := range cases {
		enc, err := EncodeKey(c.key, c.epoch)
		require.NoError(t, err)
		gotKey, gotEpoch, err := DecodeKey(enc)
		require.NoError(t, err)
		require.Equal(t, c.key, gotKey)
		require.Equal(t, c.epoch, gotEpoch)
	}
}

// P4: for a fixed logical key, encode(k, e1) < encode(k, e2) iff e1 > e2.
func TestEncodeOrdersDescendingByEpoch(t *testing.T) {
	key := []byte("some-logical-key")
	low, err := EncodeKey(key, 5)
	require.NoError(t, err)
	high, err := EncodeKey(key, 9)
	require.NoError(t, err)
	require.True(t, bytes.Compare(high, low) < 0, "encode(k,9) should sort before encode(k,5)")
}

func TestDashInLogicalKeyIsNotAmbiguous(t *testing.T) {
	// This is exactly the case the dash-separated format could not handle:
	// a logical key that itself contains the separator byte.
	key := []byte("row-18446744073709551614")
	enc, err := EncodeKey(key, 3)
	require.NoError(t, err)
	gotKey, gotEpoch, err := DecodeKey(enc)
	require.NoError(t, err)
	require.Equal(t, key, gotKey)
	require.Equal(t, uint64(3), gotEpoch)
}

func TestNextLogicalKeyPrefixExcludesAllVersions(t *testing.T) {
	key := []byte("k")
	boundary, err := NextLogicalKeyPrefix(key)
	require.NoError(t, err)
	for _, epoch := range []uint64{0, 1, 1000, 18446744073709551615} {
		enc, err := EncodeKey(key, epoch)
		require.NoError(t, err)
		require.True(t, bytes.Compare(enc, boundary) < 0)
	}
	otherKey := []byte("k\x00")
	encOther, err := EncodeKey(otherKey, 0)
	require.NoError(t, err)
	require.True(t, bytes.Compare(encOther, boundary) >= 0)
}

func TestDecodeRejectsTruncatedKey(t *testing.T) {
	_, _, err := DecodeKey([]byte{0, 0})
	require.Error(t, err)
}
