// Package extract resolves a series page into its episode list and an
// episode page into a playable stream. Episode pages embed a jwplayer-style
// setup blob; the stream URL and subtitle tracks are pulled out of it.
package extract

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hianidl/hianidl/internal/browser"
	"github.com/hianidl/hianidl/internal/utils"
)

type Episode struct {
	Number  int
	Title   string
	PageURL string
}

type Series struct {
	Title    string
	URL      string
	Episodes []Episode
}

type SubtitleTrack struct {
	Lang  string
	Label string
	URL   string
}

// StreamKind distinguishes HLS manifests from direct files.
type StreamKind string

const (
	StreamHLS StreamKind = "hls"
	StreamMP4 StreamKind = "mp4"
)

type Stream struct {
	Kind      StreamKind
	URL       string
	Referer   string
	Subtitles []SubtitleTrack
}

type Resolver struct {
	drivers []browser.Driver
}

func NewResolver(cfg utils.HTTPClientConfig) *Resolver {
	return &Resolver{drivers: browser.Select(cfg)}
}

var (
	ogTitleRegex  = regexp.MustCompile(`<meta[^>]+property="og:title"[^>]+content="([^"]+)"`)
	docTitleRegex = regexp.MustCompile(`<title>([^<]+)</title>`)
	// Episode list anchors carry the episode number and page link.
	episodeAnchorRegex = regexp.MustCompile(`<a[^>]+data-number="(\d+)"[^>]+href="([^"]+)"[^>]*(?:title="([^"]*)")?[^>]*>`)
	// Fallback for markup without data attributes: links with an ep query.
	episodeLinkRegex = regexp.MustCompile(`<a[^>]+href="([^"]*\?ep=(\d+)[^"]*)"`)
	// Player setup sources, jwplayer style: {"file":"...","type":"hls"}.
	sourceFileRegex = regexp.MustCompile(`"file"\s*:\s*"([^"]+\.(?:m3u8|mp4)[^"]*)"`)
	// Subtitle tracks: {"file":"...vtt","label":"English","kind":"captions"}.
	trackRegex = regexp.MustCompile(`\{[^{}]*"file"\s*:\s*"([^"]+\.(?:vtt|srt)[^"]*)"[^{}]*\}`)
	labelRegex = regexp.MustCompile(`"label"\s*:\s*"([^"]+)"`)
)

func (r *Resolver) ResolveSeries(ctx context.Context, seriesURL string) (*Series, error) {
	body, driverName, err := browser.Fetch(ctx, r.drivers, seriesURL, "")
	if err != nil {
		return nil, fmt.Errorf("error fetching series page: %v", err)
	}
	log := utils.GetLogger("extract")
	log.Debug().Str("driver", driverName).Str("url", seriesURL).Msg("Fetched series page")
	series, err := ParseSeries(string(body), seriesURL)
	if err != nil {
		return nil, err
	}
	return series, nil
}

func (r *Resolver) ResolveStream(ctx context.Context, episode Episode, seriesURL string) (*Stream, error) {
	body, driverName, err := browser.Fetch(ctx, r.drivers, episode.PageURL, seriesURL)
	if err != nil {
		return nil, fmt.Errorf("error fetching episode page: %v", err)
	}
	log := utils.GetLogger("extract")
	log.Debug().Str("driver", driverName).Int("episode", episode.Number).Msg("Fetched episode page")
	stream, err := ParseStream(string(body), episode.PageURL)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// ParseSeries extracts the series title and episode list from page HTML.
func ParseSeries(pageHTML, pageURL string) (*Series, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid series URL: %v", err)
	}
	series := &Series{URL: pageURL, Title: parseTitle(pageHTML)}

	seen := make(map[int]bool)
	for _, match := range episodeAnchorRegex.FindAllStringSubmatch(pageHTML, -1) {
		number, err := strconv.Atoi(match[1])
		if err != nil || seen[number] {
			continue
		}
		seen[number] = true
		title := strings.TrimSpace(html.UnescapeString(match[3]))
		if title == "" {
			title = fmt.Sprintf("Episode %d", number)
		}
		series.Episodes = append(series.Episodes, Episode{
			Number:  number,
			Title:   title,
			PageURL: resolveRef(base, match[2]),
		})
	}
	if len(series.Episodes) == 0 {
		for _, match := range episodeLinkRegex.FindAllStringSubmatch(pageHTML, -1) {
			number, err := strconv.Atoi(match[2])
			if err != nil || seen[number] {
				continue
			}
			seen[number] = true
			series.Episodes = append(series.Episodes, Episode{
				Number:  number,
				Title:   fmt.Sprintf("Episode %d", number),
				PageURL: resolveRef(base, match[1]),
			})
		}
	}
	if len(series.Episodes) == 0 {
		return nil, fmt.Errorf("no episodes found on series page")
	}
	sort.Slice(series.Episodes, func(i, j int) bool {
		return series.Episodes[i].Number < series.Episodes[j].Number
	})
	return series, nil
}

// ParseStream extracts the playable source and subtitle tracks from an
// episode page.
func ParseStream(pageHTML, pageURL string) (*Stream, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid episode URL: %v", err)
	}
	match := sourceFileRegex.FindStringSubmatch(pageHTML)
	if match == nil {
		return nil, utils.ErrStreamNotFound
	}
	streamURL := resolveRef(base, unescapeJSON(match[1]))
	stream := &Stream{
		URL:     streamURL,
		Referer: pageURL,
		Kind:    StreamMP4,
	}
	if strings.Contains(streamURL, ".m3u8") {
		stream.Kind = StreamHLS
	}
	for _, trackMatch := range trackRegex.FindAllString(pageHTML, -1) {
		fileMatch := sourceSubRegex.FindStringSubmatch(trackMatch)
		if fileMatch == nil {
			continue
		}
		track := SubtitleTrack{URL: resolveRef(base, unescapeJSON(fileMatch[1]))}
		if labelMatch := labelRegex.FindStringSubmatch(trackMatch); labelMatch != nil {
			track.Label = labelMatch[1]
			track.Lang = labelToLang(labelMatch[1])
		}
		stream.Subtitles = append(stream.Subtitles, track)
	}
	return stream, nil
}

var sourceSubRegex = regexp.MustCompile(`"file"\s*:\s*"([^"]+)"`)

func parseTitle(pageHTML string) string {
	if match := ogTitleRegex.FindStringSubmatch(pageHTML); match != nil {
		return strings.TrimSpace(html.UnescapeString(match[1]))
	}
	if match := docTitleRegex.FindStringSubmatch(pageHTML); match != nil {
		title := html.UnescapeString(match[1])
		// Site titles look like "Show Name | Watch Free" - keep the name.
		if idx := strings.IndexAny(title, "|"); idx > 0 {
			title = title[:idx]
		}
		return strings.TrimSpace(title)
	}
	return "Unknown Series"
}

func resolveRef(base *url.URL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

func unescapeJSON(s string) string {
	return strings.ReplaceAll(s, `\/`, `/`)
}

// labelToLang maps player track labels to short language codes used in
// subtitle file names.
func labelToLang(label string) string {
	lower := strings.ToLower(label)
	known := map[string]string{
		"english":    "en",
		"spanish":    "es",
		"portuguese": "pt",
		"french":     "fr",
		"german":     "de",
		"italian":    "it",
		"russian":    "ru",
		"arabic":     "ar",
		"japanese":   "ja",
	}
	for name, code := range known {
		if strings.Contains(lower, name) {
			return code
		}
	}
	// Labels like "es-419" or "pt-BR" pass through lowercased.
	fields := strings.Fields(lower)
	if len(fields) > 0 && len(fields[0]) <= 6 {
		return fields[0]
	}
	return lower
}
