package extract

import (
	"errors"
	"testing"

	"github.com/hianidl/hianidl/internal/utils"
)

const seriesPage = `<html>
<head>
<meta property="og:title" content="Frieren: Beyond Journey&#39;s End" />
<title>Frieren | Watch Free</title>
</head>
<body>
<div class="ep-list">
<a class="ep-item" data-number="1" href="/watch/frieren?ep=1" title="The Journey&#39;s End">1</a>
<a class="ep-item" data-number="2" href="/watch/frieren?ep=2" title="">2</a>
<a class="ep-item" data-number="3" href="/watch/frieren?ep=3" title="Killing Magic">3</a>
</div>
</body>
</html>`

const seriesPagePlainLinks = `<html>
<head><title>Mushoku Tensei | Watch Free Anime</title></head>
<body>
<a href="/watch/mushoku?ep=2">Ep 2</a>
<a href="/watch/mushoku?ep=1">Ep 1</a>
<a href="/watch/mushoku?ep=2">Ep 2 dup</a>
</body>
</html>`

const episodePage = `<html>
<body>
<script>
player.setup({
  sources: [{"file":"https:\/\/cdn.hiani.example\/stream\/ep1\/master.m3u8","type":"hls"}],
  tracks: [
    {"file":"https:\/\/cdn.hiani.example\/subs\/ep1\/eng.vtt","label":"English","kind":"captions"},
    {"file":"https:\/\/cdn.hiani.example\/subs\/ep1\/spa.vtt","label":"Spanish","kind":"captions"}
  ]
});
</script>
</body>
</html>`

func TestParseSeries(t *testing.T) {
	series, err := ParseSeries(seriesPage, "https://hiani.example/anime/frieren")
	if err != nil {
		t.Fatalf("ParseSeries() error: %v", err)
	}
	if series.Title != "Frieren: Beyond Journey's End" {
		t.Errorf("title = %q", series.Title)
	}
	if len(series.Episodes) != 3 {
		t.Fatalf("found %d episodes, expected 3", len(series.Episodes))
	}
	first := series.Episodes[0]
	if first.Number != 1 || first.Title != "The Journey's End" {
		t.Errorf("episode 1 = %+v", first)
	}
	if first.PageURL != "https://hiani.example/watch/frieren?ep=1" {
		t.Errorf("episode 1 URL = %q", first.PageURL)
	}
	if series.Episodes[1].Title != "Episode 2" {
		t.Errorf("untitled episode fallback = %q", series.Episodes[1].Title)
	}
}

func TestParseSeriesFallbackLinks(t *testing.T) {
	series, err := ParseSeries(seriesPagePlainLinks, "https://hiani.example/anime/mushoku")
	if err != nil {
		t.Fatalf("ParseSeries() error: %v", err)
	}
	if series.Title != "Mushoku Tensei" {
		t.Errorf("title = %q", series.Title)
	}
	if len(series.Episodes) != 2 {
		t.Fatalf("found %d episodes, expected 2 (deduped)", len(series.Episodes))
	}
	if series.Episodes[0].Number != 1 || series.Episodes[1].Number != 2 {
		t.Errorf("episodes not sorted: %+v", series.Episodes)
	}
}

func TestParseSeriesNoEpisodes(t *testing.T) {
	if _, err := ParseSeries("<html><body>nothing</body></html>", "https://hiani.example/x"); err == nil {
		t.Fatal("ParseSeries() on empty page should fail")
	}
}

func TestParseStream(t *testing.T) {
	stream, err := ParseStream(episodePage, "https://hiani.example/watch/frieren?ep=1")
	if err != nil {
		t.Fatalf("ParseStream() error: %v", err)
	}
	if stream.Kind != StreamHLS {
		t.Errorf("kind = %q, expected hls", stream.Kind)
	}
	if stream.URL != "https://cdn.hiani.example/stream/ep1/master.m3u8" {
		t.Errorf("stream URL = %q", stream.URL)
	}
	if stream.Referer != "https://hiani.example/watch/frieren?ep=1" {
		t.Errorf("referer = %q", stream.Referer)
	}
	if len(stream.Subtitles) != 2 {
		t.Fatalf("found %d subtitle tracks, expected 2", len(stream.Subtitles))
	}
	if stream.Subtitles[0].Lang != "en" || stream.Subtitles[1].Lang != "es" {
		t.Errorf("subtitle langs = %q, %q", stream.Subtitles[0].Lang, stream.Subtitles[1].Lang)
	}
}

func TestParseStreamMP4(t *testing.T) {
	page := `<script>sources: [{"file":"/videos/ep5.mp4"}]</script>`
	stream, err := ParseStream(page, "https://hiani.example/watch/x?ep=5")
	if err != nil {
		t.Fatalf("ParseStream() error: %v", err)
	}
	if stream.Kind != StreamMP4 {
		t.Errorf("kind = %q, expected mp4", stream.Kind)
	}
	if stream.URL != "https://hiani.example/videos/ep5.mp4" {
		t.Errorf("stream URL = %q", stream.URL)
	}
}

func TestParseStreamNotFound(t *testing.T) {
	_, err := ParseStream("<html><body>bot check</body></html>", "https://hiani.example/watch/x?ep=1")
	if !errors.Is(err, utils.ErrStreamNotFound) {
		t.Errorf("error = %v, expected ErrStreamNotFound", err)
	}
}

func TestLabelToLang(t *testing.T) {
	tests := []struct {
		label    string
		expected string
	}{
		{"English", "en"},
		{"Spanish (Latin America)", "es"},
		{"pt-BR", "pt-br"},
		{"Japanese", "ja"},
	}
	for _, test := range tests {
		if got := labelToLang(test.label); got != test.expected {
			t.Errorf("labelToLang(%q) = %q, expected %q", test.label, got, test.expected)
		}
	}
}
