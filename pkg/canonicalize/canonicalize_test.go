package canonicalize

import (
	"strings"
	"testing"
)

func TestJCS_SortsKeys(t *testing.T) {
	out, err := JCS(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(out) != `{"a":1,"b":2}` {
		t.Errorf("expected sorted canonical form, got %s", out)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	type rec struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	fp1, err := Fingerprint(rec{ID: "x", Count: 3})
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	fp2, _ := Fingerprint(rec{ID: "x", Count: 3})
	if fp1 != fp2 {
		t.Errorf("fingerprints differ: %s vs %s", fp1, fp2)
	}
	if !strings.HasPrefix(fp1, FingerprintPrefix) {
		t.Errorf("missing algorithm prefix: %s", fp1)
	}
}

func TestFingerprint_ContentSensitive(t *testing.T) {
	fp1, _ := Fingerprint(map[string]string{"k": "v1"})
	fp2, _ := Fingerprint(map[string]string{"k": "v2"})
	if fp1 == fp2 {
		t.Error("different content produced identical fingerprints")
	}
}

func TestChainFold_OrderSensitive(t *testing.T) {
	a := ChainFold("genesis", "fp-1")
	b := ChainFold(a, "fp-2")
	c := ChainFold(ChainFold("genesis", "fp-2"), "fp-1")
	if b == c {
		t.Error("chain fold must be order sensitive")
	}
	if a == b {
		t.Error("fold must advance the head")
	}
}
