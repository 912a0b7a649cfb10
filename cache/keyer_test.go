package cache

import (
	"errors"
	"math"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestKeyer_DeterministicForMaps(t *testing.T) {
	keyer := NewDefaultKeyer()

	map1 := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": 1, "x": []any{1, "z"}}}
	map2 := map[string]any{"c": map[string]any{"x": []any{1, "z"}, "y": 1}, "a": 1, "b": 2}

	key1, err := keyer.Key("test-tool", map1)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	key2, err := keyer.Key("test-tool", map2)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if key1 != key2 {
		t.Errorf("Keys should be equal for same content:\n  key1=%s\n  key2=%s", key1, key2)
	}
}

func TestKeyer_ArrayOrderPreserved(t *testing.T) {
	keyer := NewDefaultKeyer()

	key1, err := keyer.Key("test-tool", map[string]any{"items": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	key2, err := keyer.Key("test-tool", map[string]any{"items": []any{3, 2, 1}})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if key1 == key2 {
		t.Errorf("Keys should differ for different array order: %s", key1)
	}
}

func TestKeyer_Format(t *testing.T) {
	key, err := NewDefaultKeyer().Key("web_search", map[string]any{"q": "go"})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		t.Fatalf("key %q should have 3 parts", key)
	}
	if parts[0] != KeyPrefix || parts[1] != "web_search" {
		t.Errorf("key prefix = %s:%s, want %s:web_search", parts[0], parts[1], KeyPrefix)
	}
	if len(parts[2]) != 32 {
		t.Errorf("hash length = %d, want 32", len(parts[2]))
	}
}

func TestKeyer_ToolPartitions(t *testing.T) {
	keyer := NewDefaultKeyer()
	args := map[string]any{"q": "same"}

	key1, _ := keyer.Key("tool-a", args)
	key2, _ := keyer.Key("tool-b", args)
	if key1 == key2 {
		t.Errorf("different tools should produce different keys: %s", key1)
	}
}

func TestKeyer_NilEqualsEmpty(t *testing.T) {
	keyer := NewDefaultKeyer()

	key1, err := keyer.Key("tool", nil)
	if err != nil {
		t.Fatalf("Key(nil) error = %v", err)
	}
	key2, err := keyer.Key("tool", map[string]any{})
	if err != nil {
		t.Fatalf("Key({}) error = %v", err)
	}
	if key1 != key2 {
		t.Errorf("nil and empty args should match: %s vs %s", key1, key2)
	}
}

func TestKeyer_VersionChangesKey(t *testing.T) {
	keyer := NewDefaultKeyer()
	args := map[string]any{"q": "x"}

	v1, _ := keyer.Key(VersionedTool("tool", "v1"), args)
	v2, _ := keyer.Key(VersionedTool("tool", "v2"), args)
	none, _ := keyer.Key(VersionedTool("tool", ""), args)
	plain, _ := keyer.Key("tool", args)

	if v1 == v2 {
		t.Error("versions should produce different keys")
	}
	if none != plain {
		t.Error("empty version should not change the key")
	}
}

func TestKeyer_InvalidArgument(t *testing.T) {
	keyer := NewDefaultKeyer()

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"func", "tool", map[string]any{"f": func() {}}},
		{"channel", "tool", map[string]any{"c": make(chan int)}},
		{"complex", "tool", map[string]any{"c": complex(1, 2)}},
		{"nan", "tool", map[string]any{"n": math.NaN()}},
		{"nested inf", "tool", map[string]any{"a": []any{map[string]any{"x": math.Inf(1)}}}},
		{"empty tool", " ", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := keyer.Key(tt.tool, tt.args)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Key() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize(map[string]any{"b": []any{2, 1}, "a": map[string]any{"d": nil, "c": true}})
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	want := `{"a":{"c":true,"d":null},"b":[2,1]}`
	if string(got) != want {
		t.Errorf("Canonicalize() = %s, want %s", got, want)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"valid", "toolcache:x:abc", nil},
		{"empty", "", ErrInvalidKey},
		{"blank", "   ", ErrInvalidKey},
		{"newline", "a\nb", ErrInvalidKey},
		{"too long", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.want) {
				t.Errorf("ValidateKey() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeyer_OrderIndependentProperty(t *testing.T) {
	keyer := NewDefaultKeyer()

	rapid.Check(t, func(t *rapid.T) {
		args := rapid.MapOf(
			rapid.StringMatching(`[a-z]{1,6}`),
			rapid.OneOf(
				rapid.Map(rapid.IntRange(-1000, 1000), func(n int) any { return n }),
				rapid.Map(rapid.String(), func(s string) any { return s }),
				rapid.Map(rapid.Bool(), func(b bool) any { return b }),
			),
		).Draw(t, "args")

		names := make([]string, 0, len(args))
		for k := range args {
			names = append(names, k)
		}
		order := rapid.Permutation(names).Draw(t, "order")

		rebuilt := make(map[string]any, len(args))
		nested := make(map[string]any, len(args))
		for _, k := range order {
			rebuilt[k] = args[k]
			nested[k] = args[k]
		}

		key1, err := keyer.Key("prop", map[string]any{"outer": args})
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		key2, err := keyer.Key("prop", map[string]any{"outer": rebuilt})
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if key1 != key2 {
			t.Fatalf("keys differ for equal args: %s vs %s", key1, key2)
		}

		nested["EXTRA"] = "field"
		key3, err := keyer.Key("prop", map[string]any{"outer": nested})
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if key3 == key1 {
			t.Fatalf("adding a field should change the key")
		}
	})
}
