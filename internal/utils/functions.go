package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// SanitizeFilename strips characters that are unsafe in file names on any of
// the supported host platforms.
func SanitizeFilename(name string) string {
	cleaned := filenameRegex.ReplaceAllString(name, "_")
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		cleaned = "untitled"
	}
	return cleaned
}

// ParseEpisodeSelection parses selectors like "1-12", "3,5,9" or "1-3,7" into
// a sorted, de-duplicated list of episode numbers. An empty selector means
// all episodes.
func ParseEpisodeSelection(selector string) ([]int, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	for _, part := range strings.Split(selector, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid episode range %q: %v", part, err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid episode range %q: %v", part, err)
			}
			if end < start {
				return nil, fmt.Errorf("invalid episode range %q: end before start", part)
			}
			for i := start; i <= end; i++ {
				seen[i] = true
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid episode number %q: %v", part, err)
			}
			seen[n] = true
		}
	}
	episodes := make([]int, 0, len(seen))
	for n := range seen {
		if n < 1 {
			return nil, fmt.Errorf("episode numbers start at 1, got %d", n)
		}
		episodes = append(episodes, n)
	}
	sort.Ints(episodes)
	return episodes, nil
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	formatted := FormatBytes(uint64(bps))
	return formatted[:len(formatted)-1] + "B/s" // Slice off "B" and add "B/s"
}

// ReadDownloadList parses a YAML list of download entries, one URL with an
// optional output path and job type per entry.
func ReadDownloadList(path string) ([]DownloadEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func CleanLocal() error {
	tempDir := filepath.Join(filepath.Dir("."), TempDirName)
	_, err := os.Stat(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(tempDir)
}

func CleanFunction(outputPath string) error {
	tempDir := filepath.Join(filepath.Dir(outputPath), TempDirName)
	files, err := os.ReadDir(tempDir)
	if err != nil {
		return err
	}
	partPrefix := filepath.Base(outputPath) + ".part"
	for _, file := range files {
		filePath := filepath.Join(tempDir, file.Name())
		if strings.HasPrefix(file.Name(), partPrefix) {
			if file.IsDir() {
				if err := os.RemoveAll(filePath); err != nil {
					return err
				}
			} else {
				if err := os.Remove(filePath); err != nil {
					return err
				}
			}
		}
		// Also remove hls_* directories (segment scratch space)
		if file.IsDir() && strings.HasPrefix(file.Name(), "hls_") {
			if err := os.RemoveAll(filePath); err != nil {
				return err
			}
		}
	}
	remainingFiles, err := os.ReadDir(tempDir)
	if err != nil {
		return err
	}
	if len(remainingFiles) == 0 {
		if err := os.Remove(tempDir); err != nil {
			return err
		}
	}
	return nil
}
