// Package contenthash computes deterministic content addresses for documents.
//
// The digest covers the normalized content plus every metadata entry that
// is not volatile (timestamps and similar bookkeeping). Field ordering never
// affects the result, and whitespace-only edits that normalize away do not
// change it either.
package contenthash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

// Domain prefixes the hashed data. The version suffix allows a future
// algorithm change to invalidate every stored hash at once.
const Domain = "dualsync/content/v1"

// DefaultVolatileKeys are metadata keys excluded from the digest.
var DefaultVolatileKeys = []string{
	"created_at",
	"updated_at",
	"modified_at",
	"last_modified",
	"synced_at",
	"timestamp",
}

// Hasher computes content hashes. The zero value uses DefaultVolatileKeys.
type Hasher struct {
	volatile map[string]bool
}

// New creates a Hasher that ignores the given metadata keys.
// A nil slice selects DefaultVolatileKeys; an empty slice ignores nothing.
func New(volatileKeys []string) *Hasher {
	if volatileKeys == nil {
		volatileKeys = DefaultVolatileKeys
	}
	h := &Hasher{volatile: make(map[string]bool, len(volatileKeys))}
	for _, k := range volatileKeys {
		h.volatile[normalizeKey(k)] = true
	}
	return h
}

var defaultHasher = New(nil)

// Hash computes the content hash of doc with the default volatile keys.
func Hash(doc schema.Document) (schema.ContentHash, error) {
	return defaultHasher.Hash(doc)
}

// IsVolatile reports whether key is excluded from the digest.
func (h *Hasher) IsVolatile(key string) bool {
	if h == nil || h.volatile == nil {
		return defaultHasher.volatile[normalizeKey(key)]
	}
	return h.volatile[normalizeKey(key)]
}

// Hash computes the content hash of doc.
//
// Format: SHA256(domain 0x00 field*), where every field is written as a
// big-endian uint64 length followed by its bytes. Fields are the normalized
// content, the metadata entry count, then each (key, value) pair in key order.
// Length prefixes make the encoding injective, so {"a":"bc"} and
// {"a":"b","":"c"} can never collide.
func (h *Hasher) Hash(doc schema.Document) (schema.ContentHash, error) {
	if doc.ID == "" {
		return "", syncerr.New(syncerr.InvalidInput, "", "hash", errEmptyID)
	}

	meta, err := h.metadata(doc)
	if err != nil {
		return "", syncerr.New(syncerr.InvalidInput, doc.ID, "hash", err)
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := sha256.New()
	d.Write([]byte(Domain))
	d.Write([]byte{0x00})
	writeField(d, NormalizeContent(doc.Content))
	writeUint(d, uint64(len(keys)))
	for _, k := range keys {
		writeField(d, k)
		writeField(d, meta[k])
	}
	return schema.ContentHash(hex.EncodeToString(d.Sum(nil))), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHash(doc schema.Document) schema.ContentHash {
	h, err := Hash(doc)
	if err != nil {
		panic(err)
	}
	return h
}

// FilterMetadata returns the non-volatile metadata of doc, normalized the
// same way the digest sees it. Stores use it to build payloads that match
// the committed hash.
//
// Keys that collide after normalization are rejected by Hash; here the
// raw key that sorts first wins so the result is still stable.
func (h *Hasher) FilterMetadata(doc schema.Document) map[string]string {
	out := make(map[string]string, len(doc.Metadata))
	for _, k := range sortedKeys(doc.Metadata) {
		nk := normalizeKey(k)
		if h.IsVolatile(nk) {
			continue
		}
		if _, dup := out[nk]; dup {
			continue
		}
		out[nk] = normalizeValue(doc.Metadata[k])
	}
	return out
}

// metadata returns the normalized non-volatile metadata of doc. Two raw
// keys that normalize to the same key are an error.
func (h *Hasher) metadata(doc schema.Document) (map[string]string, error) {
	out := make(map[string]string, len(doc.Metadata))
	raw := make(map[string]string, len(doc.Metadata))
	for _, k := range sortedKeys(doc.Metadata) {
		nk := normalizeKey(k)
		if h.IsVolatile(nk) {
			continue
		}
		if prev, dup := raw[nk]; dup {
			return nil, fmt.Errorf("metadata keys %q and %q collide after normalization", prev, k)
		}
		raw[nk] = k
		out[nk] = normalizeValue(doc.Metadata[k])
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeField(d hash.Hash, s string) {
	writeUint(d, uint64(len(s)))
	d.Write([]byte(s))
}

func writeUint(d hash.Hash, n uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	d.Write(buf[:])
}

var errEmptyID = errors.New("document id is empty")

// normalizeKey keeps metadata keys comparable across authoring tools that
// differ only in surrounding whitespace or Unicode composition.
func normalizeKey(k string) string {
	return strings.TrimSpace(nfc(k))
}

func normalizeValue(v string) string {
	return strings.TrimSpace(nfc(v))
}
