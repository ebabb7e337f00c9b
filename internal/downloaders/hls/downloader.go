package hls

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hianidl/hianidl/internal/utils"
)

type HLSDownloader struct{}

func (d *HLSDownloader) ValidateJob(job *utils.HiAniJob) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("URL must use HTTP or HTTPS protocol")
	}
	return nil
}

func (d *HLSDownloader) BuildJob(job *utils.HiAniJob) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH, required for stream merging: %v", err)
	}
	if !strings.HasSuffix(strings.ToLower(job.OutputPath), ".mp4") {
		job.OutputPath += ".mp4"
	}
	if _, err := os.Stat(job.OutputPath); err == nil {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	job.ProgressType = "stream"
	return nil
}

func (d *HLSDownloader) Download(job *utils.HiAniJob) error {
	log := utils.GetLogger("hls")
	client := utils.NewHiAniHTTPClient(job.HTTPClientConfig)
	quality, _ := job.Metadata["quality"].(string)
	manifest, err := resolveMediaPlaylist(job.URL, quality, client)
	if err != nil {
		return fmt.Errorf("error resolving media playlist: %v", err)
	}
	totalSegments := len(manifest.SegmentURLs)
	log.Debug().Str("op", "download").Int("segments", totalSegments).Msg("Media playlist resolved")

	var key []byte
	if manifest.Key != nil {
		if manifest.Key.Method != "AES-128" {
			return fmt.Errorf("unsupported encryption method %s", manifest.Key.Method)
		}
		key, err = fetchKey(manifest.Key.URI, client)
		if err != nil {
			return fmt.Errorf("error fetching decryption key: %v", err)
		}
	}

	tempDir := filepath.Join(filepath.Dir(job.OutputPath), utils.TempDirName, fmt.Sprintf("hls_%s", strings.TrimSuffix(filepath.Base(job.OutputPath), filepath.Ext(job.OutputPath))))
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return fmt.Errorf("error creating temporary directory: %v", err)
	}

	if job.StreamFunc != nil {
		job.StreamFunc(fmt.Sprintf("Downloading %d segments", totalSegments))
	}
	if err := d.downloadSegments(job, client, manifest, key, tempDir); err != nil {
		return err
	}
	if job.StreamFunc != nil {
		job.StreamFunc("Merging segments with ffmpeg")
	}
	if err := mergeSegments(tempDir, totalSegments, job.OutputPath); err != nil {
		return fmt.Errorf("error merging segments: %v", err)
	}
	if err := os.RemoveAll(tempDir); err != nil {
		log.Warn().Str("op", "cleanup").Err(err).Msg("Failed to remove temporary directory")
	}
	log.Debug().Str("op", "download").Str("output", job.OutputPath).Msg("Stream download complete")
	return nil
}

func (d *HLSDownloader) downloadSegments(job *utils.HiAniJob, client *utils.HiAniHTTPClient, manifest *Manifest, key []byte, tempDir string) error {
	totalSegments := len(manifest.SegmentURLs)
	workers := job.Connections
	if workers < 1 {
		workers = 1
	}
	if workers > totalSegments {
		workers = totalSegments
	}
	type segmentTask struct {
		index int
		url   string
	}
	tasks := make(chan segmentTask, totalSegments)
	var wg sync.WaitGroup
	var done atomic.Int64
	errCh := make(chan error, totalSegments)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				segPath := filepath.Join(tempDir, fmt.Sprintf("segment_%05d.ts", task.index))
				iv := segmentIV(manifest, task.index)
				if err := downloadSegment(client, task.url, segPath, key, iv); err != nil {
					errCh <- fmt.Errorf("segment %d: %v", task.index, err)
					continue
				}
				completed := done.Add(1)
				if job.ProgressFunc != nil {
					job.ProgressFunc(completed, int64(totalSegments))
				}
			}
		}()
	}
	for i, segURL := range manifest.SegmentURLs {
		tasks <- segmentTask{index: i, url: segURL}
	}
	close(tasks)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

func downloadSegment(client *utils.HiAniHTTPClient, segURL, segPath string, key, iv []byte) error {
	// Skip segments already present from a previous attempt
	if info, err := os.Stat(segPath); err == nil && info.Size() > 0 {
		return nil
	}
	req, err := http.NewRequest("GET", segURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error downloading segment: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading segment body: %v", err)
	}
	if key != nil {
		data, err = decryptSegment(data, key, iv)
		if err != nil {
			return fmt.Errorf("error decrypting segment: %v", err)
		}
	}
	tmpPath := segPath + ".part"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("error writing segment: %v", err)
	}
	return os.Rename(tmpPath, segPath)
}

func fetchKey(keyURL string, client *utils.HiAniHTTPClient) ([]byte, error) {
	req, err := http.NewRequest("GET", keyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching key: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	key, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading key: %v", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("unexpected key length %d", len(key))
	}
	return key, nil
}

// segmentIV returns the IV for a segment. When the playlist carries no
// explicit IV, the media sequence number is used per RFC 8216.
func segmentIV(manifest *Manifest, index int) []byte {
	if manifest.Key == nil {
		return nil
	}
	iv := make([]byte, 16)
	if manifest.Key.IV != "" {
		hexIV := manifest.Key.IV
		if len(hexIV) > 32 {
			hexIV = hexIV[:32]
		}
		for i := 0; i+1 < len(hexIV); i += 2 {
			var b byte
			fmt.Sscanf(hexIV[i:i+2], "%02x", &b)
			iv[i/2] = b
		}
		return iv
	}
	binary.BigEndian.PutUint64(iv[8:], uint64(manifest.MediaSequence+index))
	return iv
}

func decryptSegment(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error creating cipher: %v", err)
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("segment length %d is not a multiple of the block size", len(data))
	}
	decrypted := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, data)
	// Strip PKCS7 padding
	if len(decrypted) > 0 {
		pad := int(decrypted[len(decrypted)-1])
		if pad > 0 && pad <= aes.BlockSize && pad <= len(decrypted) {
			decrypted = decrypted[:len(decrypted)-pad]
		}
	}
	return decrypted, nil
}

func mergeSegments(tempDir string, totalSegments int, outputPath string) error {
	listPath := filepath.Join(tempDir, "segments.txt")
	var sb strings.Builder
	for i := range totalSegments {
		segPath := filepath.Join(tempDir, fmt.Sprintf("segment_%05d.ts", i))
		if _, err := os.Stat(segPath); err != nil {
			return fmt.Errorf("segment %d missing before merge: %v", i, err)
		}
		sb.WriteString(fmt.Sprintf("file '%s'\n", segPath))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("error writing segment list: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	cmd := exec.Command("ffmpeg", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-y", outputPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg error: %v, output: %s", err, string(output))
	}
	return nil
}
