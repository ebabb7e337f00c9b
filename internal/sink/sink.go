// Package sink places finished artifacts into the download library and
// optionally mirrors them to S3.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hianidl/hianidl/internal/utils"
)

// Layout maps series and episode identity to paths under the library root.
type Layout struct {
	Root string
}

// EpisodePath returns the final library path for an episode:
// <root>/<Series>/<Series> - E<NN>.mp4
func (l Layout) EpisodePath(seriesTitle string, episodeNumber int) string {
	name := utils.SanitizeFilename(seriesTitle)
	return filepath.Join(l.Root, name, fmt.Sprintf("%s - E%02d.mp4", name, episodeNumber))
}

// SubtitlePath returns the subtitle path next to an episode file, keyed by
// language: <base>.<lang>.vtt
func SubtitlePath(episodePath, lang, ext string) string {
	base := episodePath[:len(episodePath)-len(filepath.Ext(episodePath))]
	if ext == "" {
		ext = ".vtt"
	}
	return fmt.Sprintf("%s.%s%s", base, lang, ext)
}

// Finalize moves a completed file into its library location. The parent
// directory is created as needed and existing files are never overwritten.
func Finalize(tempPath, finalPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return "", fmt.Errorf("error creating library directory: %v", err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		finalPath = utils.RenewOutputPath(finalPath)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		// Rename fails across filesystems; fall back to copy.
		if copyErr := copyFile(tempPath, finalPath); copyErr != nil {
			return "", fmt.Errorf("error finalizing file: %v", copyErr)
		}
		os.Remove(tempPath)
	}
	return finalPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return err
	}
	return out.Sync()
}
