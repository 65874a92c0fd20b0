// Package legacy reads roastery notes saved by the flat key/value scheme
// that predates the database.
package legacy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/maloquacious/roasteries/internal/logger"
	"github.com/maloquacious/roasteries/internal/store"
)

// NotesKey is the key the note set was saved under.
const NotesKey = "roasteriesData"

// Source is the older key/value storage area.
type Source interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
}

// KVFile is a Source backed by a JSON object of string values, such as a
// dump of the browser's local storage.
type KVFile struct {
	Path string
}

// Get reads the file on every call; a missing file holds no keys.
func (f KVFile) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return "", false, fmt.Errorf("%s: %w", f.Path, err)
	}
	v, ok := values[key]
	return v, ok, nil
}

// note is one entry of the legacy note set. Fields are loosely typed:
// flags count as set when truthy and ratings accept numbers or numeric strings.
type note struct {
	Purchased   any `json:"purchased"`
	HasEspresso any `json:"hasEspresso"`
	Comment     any `json:"comment"`
	Ratings     any `json:"ratings"`
}

// Parse decodes a note set into records ordered by name. Entries that are
// not objects or have an empty name are logged and skipped. Only a payload
// that is not a JSON object fails.
func Parse(data []byte, log logger.Logger) ([]store.Record, error) {
	if log == nil {
		log = logger.Nop()
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("legacy notes: %w", err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]store.Record, 0, len(names))
	for _, name := range names {
		raw := bytes.TrimSpace(entries[name])
		if name == "" {
			log.Warn("legacy notes: skipping entry with empty name")
			continue
		}
		if len(raw) == 0 || raw[0] != '{' {
			log.Warn("legacy notes: skipping %q: not an object", name)
			continue
		}
		var n note
		if err := json.Unmarshal(raw, &n); err != nil {
			log.Warn("legacy notes: skipping %q: %v", name, err)
			continue
		}
		ratings, _ := n.Ratings.(map[string]any)
		records = append(records, store.Record{
			Name:          name,
			Purchased:     truthy(n.Purchased),
			HasEspresso:   truthy(n.HasEspresso),
			Comment:       text(n.Comment),
			QualityRating: number(ratings["quality"]),
			PriceRating:   number(ratings["price"]),
			ServiceRating: number(ratings["service"]),
		})
	}
	return records, nil
}

// truthy reports whether v is set: not null, false, zero or the empty string.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

// text returns v as a comment; falsy values become the empty string.
func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == 0 {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
	}
	return ""
}

// number returns v as a whole rating, truncating fractions. Anything that
// is not a number or a numeric string is 0.
func number(v any) int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}
