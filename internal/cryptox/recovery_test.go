package cryptox

import (
	"strings"
	"testing"
)

func TestNewRecoveryCode_Format(t *testing.T) {
	code, err := NewRecoveryCode()
	if err != nil {
		t.Fatalf("NewRecoveryCode: %v", err)
	}

	groups := strings.Split(code, "-")
	if len(groups) != recoveryGroups {
		t.Fatalf("expected %d groups, got %d (%q)", recoveryGroups, len(groups), code)
	}
	for _, g := range groups {
		if len(g) != recoveryGroupSize {
			t.Fatalf("expected %d chars per group, got %q", recoveryGroupSize, g)
		}
		for _, c := range g {
			if !strings.ContainsRune(recoveryAlphabet, c) {
				t.Fatalf("character %q outside recovery alphabet", c)
			}
		}
	}
}

func TestNewRecoveryCode_Unique(t *testing.T) {
	c1, err := NewRecoveryCode()
	if err != nil {
		t.Fatalf("NewRecoveryCode: %v", err)
	}
	c2, err := NewRecoveryCode()
	if err != nil {
		t.Fatalf("NewRecoveryCode: %v", err)
	}
	if c1 == c2 {
		t.Errorf("two recovery codes are identical; extremely unlikely")
	}
}

func TestNormalizeRecoveryCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABCDE-23456", "ABCDE23456"},
		{"abcde 23456", "ABCDE23456"},
		{"ab-cd e2\t3456", "ABCDE23456"},
		{"ABCDE23456", "ABCDE23456"},
	}
	for _, tc := range tests {
		if got := NormalizeRecoveryCode(tc.in); got != tc.want {
			t.Errorf("NormalizeRecoveryCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRecoveryCode_RoundTrip(t *testing.T) {
	code, err := NewRecoveryCode()
	if err != nil {
		t.Fatalf("NewRecoveryCode: %v", err)
	}
	// A generated code normalized must equal itself with dashes stripped.
	want := strings.ReplaceAll(code, "-", "")
	if got := NormalizeRecoveryCode(code); got != want {
		t.Errorf("normalize(%q) = %q, want %q", code, got, want)
	}
}
