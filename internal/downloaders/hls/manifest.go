package hls

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/hianidl/hianidl/internal/utils"
)

// Key describes EXT-X-KEY encryption for a media playlist. Only AES-128 is
// supported; an empty Method means the stream is clear.
type Key struct {
	Method string
	URI    string
	IV     string
}

type Variant struct {
	URL       string
	Bandwidth int
	Height    int
}

type Manifest struct {
	SegmentURLs   []string
	Variants      []Variant
	Key           *Key
	MediaSequence int
}

var (
	streamInfRegex     = regexp.MustCompile(`#EXT-X-STREAM-INF:(.*)`)
	bandwidthRegex     = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	resolutionRegex    = regexp.MustCompile(`RESOLUTION=\d+x(\d+)`)
	keyRegex           = regexp.MustCompile(`#EXT-X-KEY:(.*)`)
	keyMethodRegex     = regexp.MustCompile(`METHOD=([A-Z0-9-]+)`)
	keyURIRegex        = regexp.MustCompile(`URI="([^"]+)"`)
	keyIVRegex         = regexp.MustCompile(`IV=0[xX]([0-9a-fA-F]+)`)
	mediaSequenceRegex = regexp.MustCompile(`#EXT-X-MEDIA-SEQUENCE:(\d+)`)
)

func fetchManifest(manifestURL string, client *utils.HiAniHTTPClient) (string, error) {
	req, err := http.NewRequest("GET", manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching m3u8 manifest: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading manifest content: %v", err)
	}
	return string(content), nil
}

// ParseManifest parses an m3u8 playlist. For a master playlist only Variants
// are filled; for a media playlist SegmentURLs (and Key, if any) are filled.
func ParseManifest(content, manifestURL string) (*Manifest, error) {
	baseURL, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing manifest URL: %v", err)
	}
	manifest := &Manifest{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	var pendingVariant *Variant
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if match := mediaSequenceRegex.FindStringSubmatch(line); match != nil {
			manifest.MediaSequence, _ = strconv.Atoi(match[1])
			continue
		}
		if match := keyRegex.FindStringSubmatch(line); match != nil {
			key := &Key{}
			if m := keyMethodRegex.FindStringSubmatch(match[1]); m != nil {
				key.Method = m[1]
			}
			if m := keyURIRegex.FindStringSubmatch(match[1]); m != nil {
				key.URI = resolveURL(baseURL, m[1])
			}
			if m := keyIVRegex.FindStringSubmatch(match[1]); m != nil {
				key.IV = m[1]
			}
			if key.Method != "" && key.Method != "NONE" {
				manifest.Key = key
			}
			continue
		}
		if match := streamInfRegex.FindStringSubmatch(line); match != nil {
			pendingVariant = &Variant{}
			if m := bandwidthRegex.FindStringSubmatch(match[1]); m != nil {
				pendingVariant.Bandwidth, _ = strconv.Atoi(m[1])
			}
			if m := resolutionRegex.FindStringSubmatch(match[1]); m != nil {
				pendingVariant.Height, _ = strconv.Atoi(m[1])
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		// Non-comment lines are URLs
		resolved := resolveURL(baseURL, line)
		if pendingVariant != nil {
			pendingVariant.URL = resolved
			manifest.Variants = append(manifest.Variants, *pendingVariant)
			pendingVariant = nil
		} else {
			manifest.SegmentURLs = append(manifest.SegmentURLs, resolved)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning m3u8 content: %v", err)
	}
	return manifest, nil
}

// BestVariant returns the variant with the highest bandwidth.
func (m *Manifest) BestVariant() (Variant, bool) {
	if len(m.Variants) == 0 {
		return Variant{}, false
	}
	best := m.Variants[0]
	for _, v := range m.Variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}

// VariantForQuality picks a variant for a quality preference like "720p".
// "best" or an unknown preference falls back to the highest bandwidth, as
// does a playlist without resolution tags.
func (m *Manifest) VariantForQuality(quality string) (Variant, bool) {
	target, err := strconv.Atoi(strings.TrimSuffix(quality, "p"))
	if quality == "" || quality == "best" || err != nil {
		return m.BestVariant()
	}
	picked := Variant{Height: -1}
	for _, v := range m.Variants {
		if v.Height == 0 || v.Height > target {
			continue
		}
		if v.Height > picked.Height || (v.Height == picked.Height && v.Bandwidth > picked.Bandwidth) {
			picked = v
		}
	}
	if picked.Height < 0 {
		return m.BestVariant()
	}
	return picked, true
}

// resolveMediaPlaylist fetches manifestURL and follows master playlists down
// to a media playlist, honoring the quality preference at each level.
func resolveMediaPlaylist(manifestURL, quality string, client *utils.HiAniHTTPClient) (*Manifest, error) {
	const maxDepth = 4
	for range maxDepth {
		content, err := fetchManifest(manifestURL, client)
		if err != nil {
			return nil, err
		}
		manifest, err := ParseManifest(content, manifestURL)
		if err != nil {
			return nil, err
		}
		if len(manifest.SegmentURLs) > 0 {
			return manifest, nil
		}
		variant, ok := manifest.VariantForQuality(quality)
		if !ok {
			return nil, fmt.Errorf("manifest has neither segments nor variants")
		}
		manifestURL = variant.URL
	}
	return nil, fmt.Errorf("master playlist nesting too deep")
}

func resolveURL(baseURL *url.URL, urlStr string) string {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}
	relURL, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	return baseURL.ResolveReference(relURL).String()
}
