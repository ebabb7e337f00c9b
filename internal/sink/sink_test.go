package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEpisodePath(t *testing.T) {
	layout := Layout{Root: "/library"}
	tests := []struct {
		name    string
		series  string
		episode int
		want    string
	}{
		{"simple", "Cowboy Bebop", 5, filepath.Join("/library", "Cowboy Bebop", "Cowboy Bebop - E05.mp4")},
		{"double digit", "Monster", 42, filepath.Join("/library", "Monster", "Monster - E42.mp4")},
		{"unsafe characters", "Re:Zero / Season 2", 1, filepath.Join("/library", "Re_Zero _ Season 2", "Re_Zero _ Season 2 - E01.mp4")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := layout.EpisodePath(tt.series, tt.episode); got != tt.want {
				t.Errorf("EpisodePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubtitlePath(t *testing.T) {
	got := SubtitlePath("/library/Show/Show - E01.mp4", "en", "")
	want := "/library/Show/Show - E01.en.vtt"
	if got != want {
		t.Errorf("SubtitlePath() = %q, want %q", got, want)
	}
	got = SubtitlePath("/library/Show/Show - E01.mp4", "es", ".srt")
	want = "/library/Show/Show - E01.es.srt"
	if got != want {
		t.Errorf("SubtitlePath() = %q, want %q", got, want)
	}
}

func TestFinalizeMovesAndRenews(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, "ep.part")
	if err := os.WriteFile(temp, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	final := filepath.Join(dir, "Show", "Show - E01.mp4")
	got, err := Finalize(temp, final)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if got != final {
		t.Errorf("Finalize() = %q, want %q", got, final)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Error("temp file still present after finalize")
	}

	// Second finalize with the same target must not overwrite.
	temp2 := filepath.Join(dir, "ep2.part")
	if err := os.WriteFile(temp2, []byte("other"), 0644); err != nil {
		t.Fatal(err)
	}
	got2, err := Finalize(temp2, final)
	if err != nil {
		t.Fatalf("Finalize() second error = %v", err)
	}
	if got2 == final {
		t.Error("second finalize overwrote existing file")
	}
	data, err := os.ReadFile(final)
	if err != nil || string(data) != "video" {
		t.Errorf("original file changed: %q, %v", data, err)
	}
}

func TestParseS3Target(t *testing.T) {
	bucket, prefix, err := ParseS3Target("s3://media-bucket/anime/library")
	if err != nil {
		t.Fatalf("ParseS3Target() error = %v", err)
	}
	if bucket != "media-bucket" || prefix != "anime/library" {
		t.Errorf("got bucket=%q prefix=%q", bucket, prefix)
	}
	if _, _, err := ParseS3Target("s3:///nope"); err == nil {
		t.Error("expected error for missing bucket")
	}
	bucket, prefix, err = ParseS3Target("plain-bucket")
	if err != nil || bucket != "plain-bucket" || prefix != "" {
		t.Errorf("bare bucket: bucket=%q prefix=%q err=%v", bucket, prefix, err)
	}
}
