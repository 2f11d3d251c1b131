package codec

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	in := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	out, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(out) != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}

func TestCanonicalizeNoWhitespace(t *testing.T) {
	in := []interface{}{1, 2, 3}
	out, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(out) != "[1,2,3]" {
		t.Fatalf("got %s", out)
	}
}

func TestCanonicalizeLargeIntegerPreserved(t *testing.T) {
	// Amount beyond 2^53-1 must not lose precision by round-tripping
	// through float64.
	raw := []byte(`{"amount":9007199254740993}`)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := Canonicalize(generic)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(out) != `{"amount":9007199254740993}` {
		t.Fatalf("got %s", out)
	}
}

func TestCanonicalizeIsDeterministicAcrossCalls(t *testing.T) {
	in := map[string]interface{}{"z": 1, "m": map[string]interface{}{"y": 1, "x": 2}, "a": []interface{}{3, 2, 1}}
	a, err := Canonicalize(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Canonicalize(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("non-deterministic output: %s vs %s", a, b)
	}
}
