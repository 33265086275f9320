// Package topncodec implements the ordered on-disk key encoding for the
// versioned KV store: a logical key plus an epoch, encoded so that higher
// epochs sort first within the same logical key.
//
// This is a direct port of KeyForRocksdb from the metadata store this
// operator's KV layer is modeled on, with one deliberate change: the
// original composed keys as `logicalKey + "-" + versionTag` and recovered
// the logical key at read time with rfind('-'), which is ambiguous whenever
// the logical key itself contains a '-' byte. Here the logical key is
// length-prefixed instead, so decoding never has to guess where it ends.
package topncodec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// versionTagWidth is the width, in ASCII decimal digits, of the encoded
// complemented epoch. 2^64-1 has 20 decimal digits, so every complemented
// epoch fits without truncation and all tags compare correctly as raw
// bytes.
const versionTagWidth = 20

// lengthPrefixWidth is the width, in bytes, of the big-endian logical-key
// length prefix.
const lengthPrefixWidth = 4

// EncodeKey encodes logicalKey and epoch into a single byte string such
// that, for a fixed logicalKey, EncodeKey sorts in descending order of
// epoch: the newest version of a logical key is always the first one a
// forward scan over that key's range will see.
func EncodeKey(logicalKey []byte, epoch uint64) ([]byte, error) {
	if len(logicalKey) > math.MaxUint32 {
		return nil, fmt.Errorf("topncodec: logical key too long (%d bytes)", len(logicalKey))
	}
	out := make([]byte, 0, lengthPrefixWidth+len(logicalKey)+versionTagWidth)
	var lenBuf [lengthPrefixWidth]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(logicalKey)))
	out = append(out, lenBuf[:]...)
	out = append(out, logicalKey...)
	out = appendVersionTag(out, epoch)
	return out, nil
}

// appendVersionTag appends the complemented, zero-padded decimal encoding
// of epoch: complementing epoch before formatting means a numerically
// larger epoch produces a numerically smaller (and, zero-padded to fixed
// width, lexicographically smaller) tag, so descending-epoch order is
// ordinary ascending byte order.
func appendVersionTag(dst []byte, epoch uint64) []byte {
	complement := ^epoch
	return fmt.Appendf(dst, "%020d", complement)
}

// DecodeKey splits an encoded key back into its logical key and epoch. It
// returns an error if buf is not a validly-formed encoded key.
func DecodeKey(buf []byte) (logicalKey []byte, epoch uint64, err error) {
	if len(buf) < lengthPrefixWidth {
		return nil, 0, fmt.Errorf("topncodec: key too short to hold a length prefix (%d bytes)", len(buf))
	}
	n := binary.BigEndian.Uint32(buf[:lengthPrefixWidth])
	rest := buf[lengthPrefixWidth:]
	if uint64(len(rest)) != uint64(n)+versionTagWidth {
		return nil, 0, fmt.Errorf("topncodec: key length mismatch: declared %d, have %d bytes for key+tag", n, len(rest))
	}
	logicalKey = rest[:n]
	tag := rest[n:]
	var complement uint64
	for _, b := range tag {
		if b < '0' || b > '9' {
			return nil, 0, fmt.Errorf("topncodec: non-decimal byte %q in version tag", b)
		}
		complement = complement*10 + uint64(b-'0')
	}
	epoch = ^complement
	return logicalKey, epoch, nil
}

// NextLogicalKeyPrefix returns the smallest encoded key that is strictly
// greater than every key beginning with logicalKey, i.e. the key a forward
// iterator should reposition to in order to skip past all versions of
// logicalKey. This is the Go equivalent of the original's next_key: there,
// incrementing the last byte of the *composed* dash-joined key; here,
// incrementing the last byte of the length-prefixed logical key directly,
// since the length prefix means no separator byte can be mistaken for part
// of the key.
func NextLogicalKeyPrefix(logicalKey []byte) ([]byte, error) {
	prefix, err := EncodeKey(logicalKey, 0)
	if err != nil {
		return nil, err
	}
	// prefix is lengthPrefix || logicalKey || tag(epoch=0). Every encoded
	// key for this logical key lies in [EncodeKey(logicalKey, math.MaxUint64),
	// EncodeKey(logicalKey, 0)], so incrementing just past the length+key
	// portion (before the version tag) yields the exclusive upper bound for
	// the whole family in one comparison-free step.
	boundary := make([]byte, lengthPrefixWidth+len(logicalKey))
	copy(boundary, prefix[:lengthPrefixWidth+len(logicalKey)])
	return incrementBytes(boundary)
}

// incrementBytes returns the lexicographically next byte string after b,
// carrying through 0xFF bytes the way an odometer carries through 9s. If b
// is all 0xFF, it returns b with an extra 0x00 appended, which is still
// strictly greater than any string with b as a prefix.
func incrementBytes(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out, nil
		}
		out[i] = 0x00
	}
	return append(out, 0x00), nil
}
