package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hianidl/hianidl/internal/extract"
	"github.com/hianidl/hianidl/internal/output"
	"github.com/hianidl/hianidl/internal/profiles"
	"github.com/hianidl/hianidl/internal/scheduler"
	"github.com/hianidl/hianidl/internal/utils"
)

var (
	downloadDir      string
	dataDir          string
	workers          int
	connections      int
	timeout          time.Duration
	kaTimeout        time.Duration
	userAgent        string
	proxyURL         string
	proxyUsername    string
	proxyPassword    string
	headers          []string
	profileName      string
	episodeSelection string
	subLangs         []string
	urlListFile      string
	debug            bool
	fileLog          bool
)

var globalHTTPConfig utils.HTTPClientConfig

var HiAniVersion = "dev"

const maxTotalConnections = 64

var rootCmd = &cobra.Command{
	Use:     "hianidl [SERIES_URL]",
	Short:   "HiAni-DL downloads anime series for offline viewing",
	Version: HiAniVersion,
	Args:    cobra.MaximumNArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		applyEnvDefaults()
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		// Check if proxy URL contains auth
		parsedProxy, err := u.Parse(proxyURL)
		if err == nil && parsedProxy.User != nil && proxyUsername == "" {
			proxyUsername = parsedProxy.User.Username()
			if password, set := parsedProxy.User.Password(); set {
				proxyPassword = password
			}
			parsedProxy.User = nil
			proxyURL = parsedProxy.String()
		}
		if workers*connections > maxTotalConnections {
			connections = max(maxTotalConnections/workers, 1)
			output.PrintWarning(fmt.Sprintf("Capping connections at %d per download to stay under %d total", connections, maxTotalConnections))
		}
		globalHTTPConfig = utils.HTTPClientConfig{
			Timeout:        timeout,
			KATimeout:      kaTimeout,
			ProxyURL:       proxyURL,
			ProxyUsername:  proxyUsername,
			ProxyPassword:  proxyPassword,
			UserAgent:      userAgent,
			Headers:        utils.ParseHeaderArgs(headers),
			HighThreadMode: connections > 5,
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 && urlListFile == "" {
			cmd.Help()
			os.Exit(1)
		}
		if urlListFile != "" && len(args) > 0 {
			output.PrintError("Cannot specify url argument and --urllist together, choose one")
			os.Exit(1)
		}
		var jobs []utils.HiAniJob
		var err error
		if urlListFile != "" {
			jobs, err = buildJobsFromList(urlListFile)
		} else {
			seriesURL := args[0]
			if _, parseErr := u.Parse(seriesURL); parseErr != nil {
				output.PrintError("Invalid URL format")
				os.Exit(1)
			}
			jobs, err = buildSeriesJobs(seriesURL)
		}
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		if err := scheduler.Run(jobs, workers, fileLog); err != nil {
			fmt.Println()
			output.PrintError("Encountered failed operation(s)")
			os.Exit(1)
		}
	},
}

// buildSeriesJobs resolves the series page and creates one episode job per
// selected episode.
func buildSeriesJobs(seriesURL string) ([]utils.HiAniJob, error) {
	profile, err := profiles.Load(dataDir, profileName)
	if err != nil {
		return nil, err
	}
	langs := profile.SubtitleLangs
	if len(subLangs) > 0 {
		langs = subLangs
	}
	resolver := extract.NewResolver(globalHTTPConfig)
	output.PrintInfo(fmt.Sprintf("Resolving %s", seriesURL))
	series, err := resolver.ResolveSeries(context.Background(), seriesURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve series: %v", err)
	}
	selected := series.Episodes
	if episodeSelection != "" {
		numbers, err := utils.ParseEpisodeSelection(episodeSelection)
		if err != nil {
			return nil, err
		}
		wanted := make(map[int]bool, len(numbers))
		for _, n := range numbers {
			wanted[n] = true
		}
		selected = nil
		for _, ep := range series.Episodes {
			if wanted[ep.Number] {
				selected = append(selected, ep)
			}
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("selection %q matches no episodes of %s", episodeSelection, series.Title)
		}
	}
	output.PrintInfo(fmt.Sprintf("%s: %d episodes selected", series.Title, len(selected)))
	var jobs []utils.HiAniJob
	for _, ep := range selected {
		jobs = append(jobs, utils.HiAniJob{
			JobType:      "episode",
			URL:          ep.PageURL,
			Connections:  profile.Connections,
			ProgressType: "stream",
			Metadata: map[string]any{
				"episodeNumber": ep.Number,
				"episodeTitle":  ep.Title,
				"seriesTitle":   series.Title,
				"seriesURL":     series.URL,
				"downloadDir":   downloadDir,
				"subtitleLangs": langs,
				"quality":       profile.Quality,
			},
			HTTPClientConfig: globalHTTPConfig,
		})
	}
	return jobs, nil
}

// buildJobsFromList turns a flat URL list file into jobs, one per entry.
func buildJobsFromList(path string) ([]utils.HiAniJob, error) {
	entries, err := utils.ReadDownloadList(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read URL list file: %v", err)
	}
	var jobs []utils.HiAniJob
	for _, entry := range entries {
		jobType := normalizeJobType(entry.Type)
		if jobType == "" || jobType == "series" {
			seriesJobs, err := buildSeriesJobs(entry.URL)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, seriesJobs...)
			continue
		}
		jobs = append(jobs, utils.HiAniJob{
			JobType:          jobType,
			URL:              entry.URL,
			OutputPath:       entry.OutputPath,
			Connections:      connections,
			ProgressType:     "progress",
			Metadata:         make(map[string]any),
			HTTPClientConfig: globalHTTPConfig,
		})
	}
	return jobs, nil
}

// applyEnvDefaults fills flag defaults from the container environment.
// Flags win over envs, envs over built-in defaults.
func applyEnvDefaults() {
	if downloadDir == "" {
		if env := os.Getenv("HIANI_DOWNLOAD_DIR"); env != "" {
			downloadDir = env
		} else {
			downloadDir = "."
		}
	}
	if dataDir == "" {
		if env := os.Getenv("HIANI_DATA_DIR"); env != "" {
			dataDir = env
		} else {
			home, err := os.UserHomeDir()
			if err == nil {
				dataDir = home + "/.hianidl"
			} else {
				dataDir = ".hianidl"
			}
		}
	}
	if profileName == "" {
		profileName = os.Getenv("HIANI_PROFILE")
	}
}

func Execute() {
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProfilesCmd())
	rootCmd.AddCommand(newCleanCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&downloadDir, "output-dir", "o", "", "Download directory (env HIANI_DOWNLOAD_DIR)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory for profiles, store and logs (env HIANI_DATA_DIR)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 2, "Number of episodes to download in parallel")
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", 4, "Number of connections per download (above 5 enables high-thread-mode)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "User agent ('randomize' picks a browser UA)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Download profile name (env HIANI_PROFILE)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&fileLog, "file-log", false, "Write logs to file instead of the display")

	rootCmd.Flags().StringVarP(&episodeSelection, "episodes", "e", "", "Episode selection, like '1-12' or '3,5,9' (default: all)")
	rootCmd.Flags().StringSliceVar(&subLangs, "subs", nil, "Subtitle languages to fetch (overrides profile)")
	rootCmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "Path to YAML file containing URLs and output paths")
}
