package engine

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/razeghi71/feedflow/table"
)

// keyIndex maps composite row keys to the position of their first
// occurrence. Buckets are keyed by the xxh3 hash of the encoded key and
// colliding keys are told apart by full string comparison.
type keyIndex struct {
	buckets map[uint64][]keyEntry
}

type keyEntry struct {
	key string
	pos int
}

func newKeyIndex(sizeHint int) *keyIndex {
	return &keyIndex{buckets: make(map[uint64][]keyEntry, sizeHint)}
}

// lookup returns the position stored for key.
func (ix *keyIndex) lookup(key string) (int, bool) {
	for _, e := range ix.buckets[xxh3.HashString(key)] {
		if e.key == key {
			return e.pos, true
		}
	}
	return 0, false
}

// insert stores pos for key unless key is already present. It returns the
// stored position and whether key was new.
func (ix *keyIndex) insert(key string, pos int) (int, bool) {
	h := xxh3.HashString(key)
	for _, e := range ix.buckets[h] {
		if e.key == key {
			return e.pos, false
		}
	}
	ix.buckets[h] = append(ix.buckets[h], keyEntry{key: key, pos: pos})
	return pos, true
}

// groupKey encodes every value as "<len>:<text>" and null as "-", so
// null and "" stay distinct and no two value lists share an encoding.
func groupKey(row table.Row, indices []int) string {
	var sb strings.Builder
	for _, idx := range indices {
		v := cell(row, idx)
		if v.IsNull() {
			sb.WriteByte('-')
			continue
		}
		writeKeyPart(&sb, v.Text())
	}
	return sb.String()
}

// joinKey encodes the string forms of the key values like groupKey. ok is
// false when any value is null, since a null key never matches.
func joinKey(row table.Row, indices []int) (key string, ok bool) {
	var sb strings.Builder
	for _, idx := range indices {
		v := cell(row, idx)
		if v.IsNull() {
			return "", false
		}
		writeKeyPart(&sb, v.Text())
	}
	return sb.String(), true
}

func writeKeyPart(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

func cell(row table.Row, idx int) table.Value {
	if idx < 0 || idx >= len(row.Values) {
		return table.Null()
	}
	return row.Values[idx]
}
