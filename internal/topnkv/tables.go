// Copyright 2021 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package topnkv

// SchemaVersion tracks the on-disk layout of the column families below.
// Bump it whenever a column family's key or value encoding changes in a
// way that isn't readable by older code.
const SchemaVersion = 1

const (
	// Lower holds the tier of rows logically ranked [0, OFFSET) of the
	// operator's sort order.
	// key   - 4-byte length prefix + row key (the engine's EncodeRow output) + complemented-epoch version tag
	// value - the row, in the codec the engine was configured with
	Lower = "lower"

	// Higher holds the tier of rows logically ranked [OFFSET, OFFSET+LIMIT),
	// i.e. the window the operator actually emits diffs for.
	// key   - 4-byte length prefix + row key (the engine's EncodeRow output) + complemented-epoch version tag
	// value - the row
	Higher = "higher"

	// Meta is the column family addressed by the Store methods that take
	// no column family argument (Put, Get, Delete). No package in this
	// module writes operator state to it.
	// key   - 4-byte length prefix + caller-supplied key + complemented-epoch version tag
	// value - caller-defined
	Meta = "meta"
)

// ColumnFamilies lists every non-deprecated column family in
// DefaultColumnFamilyCfg, derived once at init time. Backends range over
// it to create buckets eagerly at Open, the way ChaindataTablesCfg
// pre-declares every bucket before the first transaction runs against it.
var ColumnFamilies = nonDeprecatedColumnFamilies(DefaultColumnFamilyCfg)

func nonDeprecatedColumnFamilies(cfg ColumnFamilyCfg) []string {
	names := make([]string, 0, len(cfg))
	for _, cf := range [...]string{Lower, Higher, Meta} {
		if !cfg[cf].IsDeprecated {
			names = append(names, cf)
		}
	}
	return names
}

// ColumnFamilyCfg describes per-family properties a backend may need at
// creation time. Only IsDeprecated is used today; the field exists so a
// future family (e.g. a secondary index) can carry backend-specific flags
// without changing every backend's Open signature.
type ColumnFamilyCfg map[string]ColumnFamilyItem

type ColumnFamilyItem struct {
	IsDeprecated bool
}

// DefaultColumnFamilyCfg is the configuration used by every backend unless
// overridden.
var DefaultColumnFamilyCfg = ColumnFamilyCfg{
	Lower:  {},
	Higher: {},
	Meta:   {},
}

// TierColumnFamily returns the column family that stores a given tier.
// isLower selects Lower, otherwise Higher.
func TierColumnFamily(isLower bool) string {
	if isLower {
		return Lower
	}
	return Higher
}
