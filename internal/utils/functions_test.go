package utils

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"My Hero Academia", "My Hero Academia"},
		{"Re:Zero / Season 2", "Re_Zero _ Season 2"},
		{"...", "untitled"},
		{"", "untitled"},
		{"Frieren: Beyond Journey's End", "Frieren_ Beyond Journey_s End"},
	}
	for _, test := range tests {
		if got := SanitizeFilename(test.in); got != test.expected {
			t.Errorf("SanitizeFilename(%q) = %q, expected %q", test.in, got, test.expected)
		}
	}
}

func TestParseEpisodeSelection(t *testing.T) {
	tests := []struct {
		selector string
		expected []int
		wantErr  bool
	}{
		{"", nil, false},
		{"1-4", []int{1, 2, 3, 4}, false},
		{"3,5,9", []int{3, 5, 9}, false},
		{"1-3,7,2", []int{1, 2, 3, 7}, false},
		{"5-3", nil, true},
		{"abc", nil, true},
		{"0", nil, true},
	}
	for _, test := range tests {
		got, err := ParseEpisodeSelection(test.selector)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseEpisodeSelection(%q) expected error, got %v", test.selector, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEpisodeSelection(%q) unexpected error: %v", test.selector, err)
			continue
		}
		if !reflect.DeepEqual(got, test.expected) {
			t.Errorf("ParseEpisodeSelection(%q) = %v, expected %v", test.selector, got, test.expected)
		}
	}
}

func TestParseHeaderArgs(t *testing.T) {
	headers := []string{"Referer: https://example.com", "X-Token:abc", "malformed"}
	got := ParseHeaderArgs(headers)
	expected := map[string]string{
		"Referer": "https://example.com",
		"X-Token": "abc",
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("ParseHeaderArgs() = %v, expected %v", got, expected)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in       uint64
		expected string
	}{
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
	}
	for _, test := range tests {
		if got := FormatBytes(test.in); got != test.expected {
			t.Errorf("FormatBytes(%d) = %q, expected %q", test.in, got, test.expected)
		}
	}
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "episode.mp4")
	if err := os.WriteFile(existing, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	renewed := RenewOutputPath(existing)
	if renewed != filepath.Join(dir, "episode-(1).mp4") {
		t.Errorf("RenewOutputPath() = %q", renewed)
	}
	if err := os.WriteFile(renewed, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	renewed2 := RenewOutputPath(existing)
	if renewed2 != filepath.Join(dir, "episode-(2).mp4") {
		t.Errorf("RenewOutputPath() second = %q", renewed2)
	}
}
