package text

import (
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"emphasis with trailing colon", "**History**: ", "History"},
		{"bullet marker only", "- ", ""},
		{"double colon collapses", "Text::  ", "Text:"},
		{"plain text untouched", "Hello there", "Hello there"},
		{"single emphasis unwrapped", "*important*", "important"},
		{"underscore emphasis unwrapped", "__bold__ word", "bold word"},
		{"heading marker stripped", "## Section title", "Section title"},
		{"bullet item keeps text", "- first item", "first item"},
		{"asterisk bullet keeps text", "* second item", "second item"},
		{"whitespace runs collapse", "too   many    spaces", "too many spaces"},
		{"surrounding whitespace trimmed", "  padded  ", "padded"},
		{"trailing colon dropped", "Answer:", "Answer"},
		{"triple colon collapses", "a::: b", "a: b"},
		{"empty input", "", ""},
		{"whitespace only", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clean(tt.input)
			if got != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsSpeakable_Rejects(t *testing.T) {
	rejected := []string{"", "   ", "-", "--", "**", "::"}
	for _, input := range rejected {
		if IsSpeakable(input, 1) {
			t.Errorf("IsSpeakable(%q) = true, want false", input)
		}
	}
}

func TestIsSpeakable_Accepts(t *testing.T) {
	accepted := []string{"History", "Yes, I", "a", "3 items"}
	for _, input := range accepted {
		if !IsSpeakable(input, 1) {
			t.Errorf("IsSpeakable(%q) = false, want true", input)
		}
	}
}

func TestIsSpeakable_MinLength(t *testing.T) {
	if IsSpeakable("Hi", 3) {
		t.Error("Expected text shorter than minLength to be rejected")
	}
	if !IsSpeakable("Hi", 2) {
		t.Error("Expected text meeting minLength to be accepted")
	}

	// Length is measured after cleaning, not on the raw input.
	if IsSpeakable("**Hi**:", 3) {
		t.Error("Expected cleaned length to be used for the minLength check")
	}
}
