// Package contentid derives deterministic identifiers from content and keys.
//
// Record ids are 63-bit integers that depend only on the provenance of an
// entry, so re-importing unchanged input upserts the same rows. Block ids are
// short hex hashes of the block's kind and normalized text.
package contentid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
)

// BlockHashLen is the number of hex characters kept for a block hash.
const BlockHashLen = 12

// StableID64 hashes seed with SHA-256 and returns the first eight bytes as a
// big-endian integer with the sign bit cleared. It never returns 0.
func StableID64(seed string) int64 {
	sum := sha256.Sum256([]byte(seed))
	id := int64(binary.BigEndian.Uint64(sum[:8]) & 0x7fffffffffffffff)
	if id == 0 {
		return 1
	}
	return id
}

// RecordSeed builds the composite key a record id is derived from.
func RecordSeed(source, entryID, title string, position int64) string {
	return strings.Join([]string{source, entryID, title, strconv.FormatInt(position, 10)}, "::")
}

// RecordID returns the stable id of the entry identified by
// (source, entryID, title, position).
func RecordID(source, entryID, title string, position int64) int64 {
	return StableID64(RecordSeed(source, entryID, title, position))
}

// BlockHash returns the truncated hash of "kind|normalizedText".
func BlockHash(kind, normalizedText string) string {
	sum := sha256.Sum256([]byte(kind + "|" + normalizedText))
	return hex.EncodeToString(sum[:])[:BlockHashLen]
}

// Disambiguator hands out unique block ids within one document.
// The zero value is not usable; use NewDisambiguator.
type Disambiguator struct {
	seen map[string]int
}

// NewDisambiguator creates a disambiguator for one document.
func NewDisambiguator() *Disambiguator {
	return &Disambiguator{seen: make(map[string]int)}
}

// Next returns id unchanged the first time it is seen and id-2, id-3, ...
// on subsequent collisions. Ids supplied by the source are reserved with
// Reserve so derived ids never shadow them.
func (d *Disambiguator) Next(id string) string {
	n := d.seen[id]
	if n == 0 {
		d.seen[id] = 1
		return id
	}
	for {
		n++
		candidate := id + "-" + strconv.Itoa(n)
		if _, taken := d.seen[candidate]; !taken {
			d.seen[id] = n
			d.seen[candidate] = 1
			return candidate
		}
	}
}

// Reserve marks id as used without disambiguating it.
func (d *Disambiguator) Reserve(id string) {
	if _, ok := d.seen[id]; !ok {
		d.seen[id] = 1
	}
}
