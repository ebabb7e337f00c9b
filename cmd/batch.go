package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/hianidl/hianidl/internal/scheduler"
	"github.com/hianidl/hianidl/internal/utils"
)

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
	Episodes   string `yaml:"episodes,omitempty"`
}

type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			yamlFile := args[0]
			data, err := os.ReadFile(yamlFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading YAML file: %v\n", err)
				os.Exit(1)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing YAML file: %v\n", err)
				os.Exit(1)
			}
			jobs := buildJobsFromBatch(batchFile)
			if len(jobs) == 0 {
				fmt.Fprintf(os.Stderr, "No valid jobs found in the batch file\n")
				os.Exit(1)
			}
			if err := scheduler.Run(jobs, workers, fileLog); err != nil {
				os.Exit(1)
			}
		},
	}
	return cmd
}

func buildJobsFromBatch(batchFile BatchFile) []utils.HiAniJob {
	var jobs []utils.HiAniJob
	for jobType, entries := range batchFile {
		normalizedType := normalizeJobType(jobType)
		if normalizedType == "" {
			fmt.Fprintf(os.Stderr, "Warning: Unknown job type '%s', skipping...\n", jobType)
			continue
		}
		for _, entry := range entries {
			if entry.Link == "" {
				fmt.Fprintf(os.Stderr, "Warning: Empty link found in %s section, skipping...\n", jobType)
				continue
			}
			if normalizedType == "series" {
				seriesJobs, err := buildSeriesJobsFromEntry(entry)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: %v, skipping...\n", err)
					continue
				}
				jobs = append(jobs, seriesJobs...)
				continue
			}
			job := utils.HiAniJob{
				JobType:          normalizedType,
				URL:              entry.Link,
				OutputPath:       entry.OutputPath,
				Connections:      connections,
				HTTPClientConfig: globalHTTPConfig,
				Metadata:         make(map[string]any),
			}
			switch normalizedType {
			case "hls":
				job.ProgressType = "stream"
			default:
				job.ProgressType = "progress"
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// buildSeriesJobsFromEntry expands a series entry into per-episode jobs,
// honoring the entry's own episode selection.
func buildSeriesJobsFromEntry(entry BatchEntry) ([]utils.HiAniJob, error) {
	savedSelection := episodeSelection
	defer func() { episodeSelection = savedSelection }()
	episodeSelection = entry.Episodes
	return buildSeriesJobs(entry.Link)
}

func normalizeJobType(jobType string) string {
	switch jobType {
	case "series", "anime":
		return "series"
	case "episode", "ep":
		return "episode"
	case "hls", "m3u8", "stream":
		return "hls"
	case "http", "file", "direct":
		return "http"
	}
	return ""
}
