package main

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// The README points operators at per-platform compose files; every path it
// names must exist, and every compose file must carry the two fields the
// README tells operators to edit.
func TestReadmeComposePathsExist(t *testing.T) {
	readme, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("reading README.md: %v", err)
	}
	pathRegex := regexp.MustCompile(`deploy/[a-z]+/docker-compose\.yml`)
	paths := pathRegex.FindAllString(string(readme), -1)
	if len(paths) == 0 {
		t.Fatal("README names no compose files")
	}
	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if _, err := os.Stat(filepath.FromSlash(p)); err != nil {
			t.Errorf("README references %s but it does not exist: %v", p, err)
		}
	}
	for _, platform := range []string{"linux", "macos", "windows"} {
		p := "deploy/" + platform + "/docker-compose.yml"
		if !seen[p] {
			t.Errorf("README does not mention %s", p)
		}
	}
}

func TestComposeFilesCarryEditableFields(t *testing.T) {
	entries, err := os.ReadDir("deploy")
	if err != nil {
		t.Fatalf("reading deploy dir: %v", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join("deploy", entry.Name(), "docker-compose.yml")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("platform dir %s has no compose file: %v", entry.Name(), err)
			continue
		}
		content := string(data)
		if !strings.Contains(content, ":/downloads") {
			t.Errorf("%s: missing download volume mount", path)
		}
		if !strings.Contains(content, "TZ=") {
			t.Errorf("%s: missing TZ environment variable", path)
		}
	}
}
