package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
)

// KeyPrefix starts every key produced by DefaultKeyer.
const KeyPrefix = "toolcache"

// Keyer derives the exact-match identity of a tool call.
//
// Contract:
//   - Determinism: equal arguments produce equal keys regardless of map
//     iteration order at any nesting depth.
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: unserializable arguments return an error wrapping ErrInvalidArgument.
type Keyer interface {
	Key(tool string, args map[string]any) (string, error)
}

// DefaultKeyer hashes canonical JSON with SHA-256.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns toolcache:<tool>:<32 hex chars>. A nil argument map and an
// empty one produce the same key.
func (k *DefaultKeyer) Key(tool string, args map[string]any) (string, error) {
	if strings.TrimSpace(tool) == "" {
		return "", fmt.Errorf("%w: tool name is empty", ErrInvalidArgument)
	}
	if args == nil {
		args = map[string]any{}
	}

	canonical, err := Canonicalize(args)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidArgument, tool, err)
	}

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonical)
	sum := h.Sum(nil)

	key := KeyPrefix + ":" + tool + ":" + hex.EncodeToString(sum[:16])
	if err := ValidateKey(key); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidArgument, tool, err)
	}
	return key, nil
}

// VersionedTool folds a tool version into the name used for keys so results
// produced by an older implementation are never served after an upgrade.
func VersionedTool(tool, version string) string {
	if version == "" {
		return tool
	}
	return tool + "@" + version
}

// Canonicalize produces deterministic JSON: object keys sorted at every
// level, arrays in their original order. Non-finite floats are rejected.
func Canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	case float64:
		return canonicalizeFloat(val)
	case float32:
		return canonicalizeFloat(float64(val))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
	return json.Marshal(v)
}

func canonicalizeFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("unsupported float value %v", f)
	}
	return json.Marshal(f)
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := Canonicalize(m[k])
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		result = append(result, valBytes...)
	}
	return append(result, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := Canonicalize(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		result = append(result, valBytes...)
	}
	return append(result, ']'), nil
}

var _ Keyer = (*DefaultKeyer)(nil)
