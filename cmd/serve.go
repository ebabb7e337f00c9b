package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hianidl/hianidl/internal/output"
	"github.com/hianidl/hianidl/internal/server"
	"github.com/hianidl/hianidl/internal/store"
)

func newServeCmd() *cobra.Command {
	var addr string
	var serveWorkers int
	var s3Target string
	var s3Profile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HiAni-DL daemon with its HTTP API",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				output.PrintError(fmt.Sprintf("Cannot create data dir: %v", err))
				os.Exit(1)
			}
			st, err := store.Open(filepath.Join(dataDir, "hianidl.db"))
			if err != nil {
				output.PrintError(fmt.Sprintf("Cannot open job store: %v", err))
				os.Exit(1)
			}
			defer st.Close()

			srv := server.NewServer(server.Config{
				Addr:        addr,
				DownloadDir: downloadDir,
				DataDir:     dataDir,
				Workers:     serveWorkers,
				Connections: connections,
				UserAgent:   userAgent,
				ProxyURL:    proxyURL,
				S3Target:    s3Target,
				S3Profile:   s3Profile,
			}, st)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			output.PrintHeader(fmt.Sprintf("HiAni-DL daemon on %s", addr))
			if err := srv.Run(ctx); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8724", "API listen address")
	cmd.Flags().IntVar(&serveWorkers, "jobs", 1, "Number of jobs to run in parallel")
	cmd.Flags().StringVar(&s3Target, "s3-mirror", "", "Mirror finished files to an S3 target (s3://bucket/prefix)")
	cmd.Flags().StringVar(&s3Profile, "s3-profile", "", "AWS shared config profile for mirroring")
	return cmd
}
