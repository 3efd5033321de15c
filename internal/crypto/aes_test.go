package crypto

import (
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s.Seal("ABCD-1234")
	if err != nil {
		t.Fatal(err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "ABCD") {
		t.Fatalf("sealed = %q", sealed)
	}
	again, _ := s.Seal("ABCD-1234")
	if again == sealed {
		t.Error("nonce reused")
	}
	if got, err := s.Open(sealed); err != nil || got != "ABCD-1234" {
		t.Errorf("Open = %q, %v", got, err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	a, _ := NewSealer(testKey)
	b, _ := NewSealer(strings.Repeat("k", 32))
	sealed, _ := a.Seal("ABCD-1234")
	if _, err := b.Open(sealed); err != ErrOpen {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if _, err := a.Open(prefix + "!!!"); err != ErrOpen {
		t.Errorf("garbage err = %v", err)
	}
}

func TestNilSealerPassesThrough(t *testing.T) {
	s, err := NewSealer("")
	if err != nil || s != nil {
		t.Fatalf("NewSealer(\"\") = %v, %v", s, err)
	}
	if v, _ := s.Seal("x"); v != "x" {
		t.Errorf("Seal = %q", v)
	}
	if v, _ := s.Open("x"); v != "x" {
		t.Errorf("Open = %q", v)
	}
}

func TestOpenPlainValue(t *testing.T) {
	s, _ := NewSealer(testKey)
	if v, err := s.Open("WXYZ-9876"); err != nil || v != "WXYZ-9876" {
		t.Errorf("Open(plain) = %q, %v", v, err)
	}
}

func TestDeriveKey(t *testing.T) {
	for _, k := range []string{testKey, strings.Repeat("a", 32), "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="} {
		if b, err := DeriveKey(k); err != nil || len(b) != 32 {
			t.Errorf("DeriveKey(%q) = %d bytes, %v", k, len(b), err)
		}
	}
	if _, err := DeriveKey("short"); err == nil {
		t.Error("short key accepted")
	}
}
