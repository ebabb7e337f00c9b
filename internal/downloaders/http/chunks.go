package hianihttp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hianidl/hianidl/internal/utils"
)

func PerformMultiDownload(config utils.DownloadConfig, client *utils.HiAniHTTPClient, fileSize int64, progressCh chan<- int64) error {
	defer close(progressCh)
	job := utils.DownloadJob{
		Config:    config,
		FileSize:  fileSize,
		StartTime: time.Now(),
	}
	tempDir := filepath.Join(filepath.Dir(config.OutputPath), utils.TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %v", err)
	}

	// Setup chunks
	mutex := &sync.Mutex{}
	chunkSize := fileSize / int64(config.Connections)
	var currentPosition int64 = 0
	for i := range config.Connections {
		startByte := currentPosition
		endByte := startByte + chunkSize - 1
		if i == config.Connections-1 {
			endByte = fileSize - 1
		}
		if endByte >= fileSize {
			endByte = fileSize - 1
		}
		if endByte >= startByte {
			job.Chunks = append(job.Chunks, utils.DownloadChunk{
				ID:        i,
				StartByte: startByte,
				EndByte:   endByte,
			})
		}
		currentPosition = endByte + 1
	}

	var wg sync.WaitGroup
	for i := range job.Chunks {
		wg.Add(1)
		go chunkedDownload(&job, &job.Chunks[i], client, &wg, progressCh, mutex)
	}
	wg.Wait()

	var incompleteChunks []int
	for i, chunk := range job.Chunks {
		if !chunk.Completed {
			incompleteChunks = append(incompleteChunks, i)
		}
	}
	if len(incompleteChunks) > 0 {
		return fmt.Errorf("download incomplete: %d chunks failed: %v", len(incompleteChunks), incompleteChunks)
	}

	if err := assembleFile(job); err != nil {
		return fmt.Errorf("error assembling file: %v", err)
	}
	return nil
}

func chunkedDownload(job *utils.DownloadJob, chunk *utils.DownloadChunk, client *utils.HiAniHTTPClient, wg *sync.WaitGroup, progressCh chan<- int64, mutex *sync.Mutex) {
	defer wg.Done()
	tempDir := filepath.Join(filepath.Dir(job.Config.OutputPath), utils.TempDirName)
	tempFileName := filepath.Join(tempDir, fmt.Sprintf("%s.part%d", filepath.Base(job.Config.OutputPath), chunk.ID))
	expectedSize := chunk.EndByte - chunk.StartByte + 1
	resumeOffset := int64(0)
	if fileInfo, err := os.Stat(tempFileName); err == nil {
		resumeOffset = fileInfo.Size()
		if resumeOffset == expectedSize {
			mutex.Lock()
			job.TempFiles = append(job.TempFiles, tempFileName)
			mutex.Unlock()
			chunk.Downloaded = resumeOffset
			chunk.Completed = true
			progressCh <- resumeOffset
			return
		} else if resumeOffset > expectedSize {
			os.Remove(tempFileName)
			resumeOffset = 0
		}
	}
	maxRetries := 5
	for retry := range maxRetries {
		if retry > 0 {
			time.Sleep(time.Duration(retry+1) * 500 * time.Millisecond) // Backoff
			if fileInfo, err := os.Stat(tempFileName); err == nil {
				currentSize := fileInfo.Size()
				if currentSize != chunk.Downloaded && chunk.Downloaded > 0 {
					os.Remove(tempFileName)
					progressCh <- -chunk.Downloaded // Subtract from progress
					chunk.Downloaded = 0
					resumeOffset = 0
				}
			}
		}
		if err := downloadSingleChunk(job, chunk, client, tempFileName, progressCh, resumeOffset); err != nil {
			chunk.LastError = err
			chunk.Retries++
			continue
		}
		mutex.Lock()
		job.TempFiles = append(job.TempFiles, tempFileName)
		mutex.Unlock()
		chunk.Completed = true
		return
	}
}

func downloadSingleChunk(job *utils.DownloadJob, chunk *utils.DownloadChunk, client *utils.HiAniHTTPClient, tempFileName string, progressCh chan<- int64, resumeOffset int64) error {
	flag := os.O_WRONLY | os.O_CREATE
	if resumeOffset > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	tempFile, err := os.OpenFile(tempFileName, flag, 0644)
	if err != nil {
		return fmt.Errorf("error opening temp file: %v", err)
	}
	defer tempFile.Close()

	startByte := chunk.StartByte + resumeOffset
	req, err := http.NewRequest("GET", job.Config.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", startByte, chunk.EndByte))
	req.Header.Set("Connection", "keep-alive")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Range") == "" {
		return errors.New("missing Content-Range header")
	}

	if resumeOffset > 0 {
		progressCh <- resumeOffset
		chunk.Downloaded = resumeOffset
	}
	remainingBytes := chunk.EndByte - startByte + 1
	buffer := make([]byte, utils.DefaultBufferSize)
	newBytes := int64(0)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			_, writeErr := tempFile.Write(buffer[:bytesRead])
			if writeErr != nil {
				return writeErr
			}
			newBytes += int64(bytesRead)
			chunk.Downloaded += int64(bytesRead)
			progressCh <- int64(bytesRead)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return readErr
		}
	}
	if newBytes != remainingBytes {
		return fmt.Errorf("size mismatch: expected %d remaining bytes, got %d bytes this session", remainingBytes, newBytes)
	}
	totalExpectedSize := chunk.EndByte - chunk.StartByte + 1
	if chunk.Downloaded != totalExpectedSize {
		return fmt.Errorf("total size mismatch: expected %d total bytes, got %d bytes", totalExpectedSize, chunk.Downloaded)
	}
	return nil
}

func assembleFile(job utils.DownloadJob) error {
	for _, chunk := range job.Chunks {
		if !chunk.Completed {
			return errors.New("not all chunks were completed successfully")
		}
	}
	tempFiles := make([]string, len(job.TempFiles))
	copy(tempFiles, job.TempFiles)
	sort.Slice(tempFiles, func(i, j int) bool {
		idI, errI := extractChunkID(tempFiles[i])
		idJ, errJ := extractChunkID(tempFiles[j])
		if errI != nil || errJ != nil {
			return tempFiles[i] < tempFiles[j] // Fallback to string comparison
		}
		return idI < idJ
	})
	destFile, err := os.Create(job.Config.OutputPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	var totalWritten int64 = 0
	for _, tempFilePath := range tempFiles {
		tempFile, err := os.Open(tempFilePath)
		if err != nil {
			return fmt.Errorf("error opening chunk file %s: %v", tempFilePath, err)
		}
		fileInfo, err := tempFile.Stat()
		if err != nil {
			tempFile.Close()
			return fmt.Errorf("error getting chunk file info: %v", err)
		}
		chunkSize := fileInfo.Size()
		written, err := io.Copy(destFile, tempFile)
		tempFile.Close()
		if err != nil {
			return fmt.Errorf("error copying chunk data: %v", err)
		}
		if written != chunkSize {
			return fmt.Errorf("error: wrote %d bytes but chunk size is %d", written, chunkSize)
		}
		totalWritten += written
	}
	if totalWritten != job.FileSize {
		return fmt.Errorf("error: total written bytes (%d) doesn't match expected file size (%d)", totalWritten, job.FileSize)
	}
	for _, tempFilePath := range tempFiles {
		os.Remove(tempFilePath)
	}
	return nil
}

func extractChunkID(filename string) (int, error) {
	matches := utils.ChunkIDRegex.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return -1, fmt.Errorf("could not extract chunk ID from %s", filename)
	}
	return strconv.Atoi(matches[1])
}
