package canonical

import (
	"testing"
)

func assertMarshal(t *testing.T, v any, want string) {
	t.Helper()
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal(%v) failed: %v", v, err)
	}
	if string(got) != want {
		t.Errorf("Marshal(%v) = %s, want %s", v, got, want)
	}
}

func TestMarshalScalars(t *testing.T) {
	assertMarshal(t, "hello", `"hello"`)
	assertMarshal(t, 42, "42")
	assertMarshal(t, int64(-7), "-7")
	assertMarshal(t, true, "true")
	assertMarshal(t, false, "false")
}

func TestMarshalSortsObjectKeys(t *testing.T) {
	assertMarshal(t, map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mid":   3,
	}, `{"alpha":2,"mid":3,"zebra":1}`)
}

func TestMarshalNested(t *testing.T) {
	assertMarshal(t, map[string]any{
		"events": []any{
			map[string]any{"seq": int64(1), "ok": true},
		},
		"run": "r1",
	}, `{"events":[{"ok":true,"seq":1}],"run":"r1"}`)
}

func TestMarshalStringSlice(t *testing.T) {
	assertMarshal(t, []string{"b", "a"}, `["b","a"]`)
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	assertMarshal(t, "<a>&</a>", `"<a>&</a>"`)
}

func TestMarshalNormalizesNFC(t *testing.T) {
	// e + combining acute accent composes to U+00E9.
	assertMarshal(t, "e\u0301", "\"\u00e9\"")
}

func TestMarshalKeepsLineSeparatorsLiteral(t *testing.T) {
	// The line separator must appear unescaped per RFC 8785.
	assertMarshal(t, "a\u2028b", "\"a\u2028b\"")
	assertMarshal(t, "a\u2029b", "\"a\u2029b\"")

	// A textual backslash-u sequence is not a line separator and must
	// survive as an escaped backslash plus text.
	assertMarshal(t, `a\u2028b`, `"a\\u2028b"`)
}

func TestMarshalRejectsFloats(t *testing.T) {
	if _, err := Marshal(3.14); err == nil {
		t.Error("Marshal(float) succeeded, want error")
	}
	if _, err := Marshal(map[string]any{"p": 0.5}); err == nil {
		t.Error("Marshal(map with float) succeeded, want error")
	}
}

func TestMarshalRejectsNull(t *testing.T) {
	if _, err := Marshal(nil); err == nil {
		t.Error("Marshal(nil) succeeded, want error")
	}
	if _, err := Marshal([]any{nil}); err == nil {
		t.Error("Marshal(array with nil) succeeded, want error")
	}
}

func TestSortedKeysUsesUTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair starting at 0xD83D, which sorts
	// before U+FF61 in UTF-16 but after it in UTF-8 bytes.
	obj := map[string]any{
		"\U0001F600": 1,
		"\uFF61":      2,
	}
	keys := SortedKeys(obj)
	if keys[0] != "\U0001F600" {
		t.Errorf("first key = %q, want the surrogate-pair character", keys[0])
	}
}

func TestMarshalIsStable(t *testing.T) {
	obj := map[string]any{"b": 1, "a": []any{"x", map[string]any{"k": int64(2)}}}
	first, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(obj)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if string(first) != string(again) {
			t.Fatalf("iteration %d produced different bytes", i)
		}
	}
}
