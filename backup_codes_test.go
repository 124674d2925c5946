package authkit

import (
	"strings"
	"testing"
)

func TestNewBackupCodeUsesRestrictedAlphabet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := newBackupCode(8)
		if err != nil {
			t.Fatalf("newBackupCode failed: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("code length = %d, want 8", len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(backupCodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("only %d distinct codes in 50 draws", len(seen))
	}
}

func TestNewBackupCodeRejectsShortLength(t *testing.T) {
	if _, err := newBackupCode(4); err == nil {
		t.Fatal("expected error for length < 8")
	}
}

func TestFormatBackupCode(t *testing.T) {
	if got := formatBackupCode("ABCD2345"); got != "ABCD-2345" {
		t.Fatalf("got %q, want ABCD-2345", got)
	}
	if got := formatBackupCode("ABCDE23456"); got != "ABCDE-23456" {
		t.Fatalf("got %q, want ABCDE-23456", got)
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	cases := map[string]string{
		"ABCD-2345":   "ABCD2345",
		"abcd-2345":   "ABCD2345",
		" ABCD 2345 ": "ABCD2345",
		"ABCD2345":    "ABCD2345",
	}
	for in, want := range cases {
		if got := canonicalizeBackupCode(in); got != want {
			t.Errorf("canonicalizeBackupCode(%q) = %q, want %q", in, got, want)
		}
	}
}
