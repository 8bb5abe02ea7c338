package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached KRA response.
type Key struct {
	// Prefix is the operation name (e.g., "pin", "tcc", "taxpayer").
	Prefix string

	// Params are the normalised operation parameters (e.g., {"pin_number": "P051234567A"}).
	Params map[string]any
}

// String generates the deterministic cache key string.
// Format: prefix:hexdigest
//
// Example:
//
//	pin:9f0c5e2d7a1b3c44
func (k Key) String() string {
	return GenerateKey(k.Prefix, k.Params)
}

// GenerateKey derives "{prefix}:{digest}" from a canonical, sorted-by-key
// serialisation of params. Two calls with the same prefix and parameters
// produce the same key regardless of how the map was built.
func GenerateKey(prefix string, params map[string]any) string {
	digest := xxhash.Sum64String(canonical(params))
	return prefix + ":" + fmt.Sprintf("%016x", digest)
}

// canonical renders params as key=value pairs in sorted key order. Values are
// JSON encoded so that "1" and 1 stay distinct; values JSON cannot encode fall
// back to their fmt representation.
func canonical(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(key))
		b.WriteByte(':')

		encoded, err := json.Marshal(params[key])
		if err != nil {
			b.WriteString(strconv.Quote(fmt.Sprintf("%v", params[key])))
			continue
		}
		b.Write(encoded)
	}
	b.WriteByte('}')

	return b.String()
}
