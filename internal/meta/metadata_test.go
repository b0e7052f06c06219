package meta

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestMergeAndClone(t *testing.T) {
	m := New(map[string]string{"publisher": "Penguin", "language": "en"})
	cloned := m.Clone()
	m.Merge(New(map[string]string{"edition": "2nd", "language": ""}))
	if v := m["edition"]; v != "2nd" {
		t.Fatalf("merge failed: %+v", m)
	}
	if _, ok := m["language"]; ok {
		t.Fatalf("empty value should delete key: %+v", m)
	}
	if cloned["language"] != "en" || len(cloned) != 2 {
		t.Fatalf("clone shares state with original: %+v", cloned)
	}
}

func TestValidationLimits(t *testing.T) {
	pairs := make(map[string]string)
	for i := 0; i < MaxPairs+1; i++ {
		pairs["key_"+string(rune('a'+i))] = "v"
	}
	if err := New(pairs).Validate(); !errors.Is(err, ErrTooManyPairs) {
		t.Fatalf("expected too many pairs, got %v", err)
	}
	if err := New(map[string]string{"Bad Key": "v"}).Validate(); !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected bad key, got %v", err)
	}
	if err := New(map[string]string{"publisher": strings.Repeat("v", MaxValLen+1)}).Validate(); !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("expected value too long, got %v", err)
	}
	if err := New(map[string]string{"publisher": "Penguin"}).Validate(); err != nil {
		t.Fatalf("valid metadata rejected: %v", err)
	}
}

func TestStableJSON(t *testing.T) {
	m := New(map[string]string{"publisher": "Penguin", "edition": "2nd"})
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"edition":"2nd","publisher":"Penguin"}` {
		t.Fatalf("unexpected stable json: %s", b)
	}
	var back Metadata
	if err := json.Unmarshal([]byte("null"), &back); err != nil || back == nil || len(back) != 0 {
		t.Fatalf("null should decode to empty metadata: %v %+v", err, back)
	}
}
