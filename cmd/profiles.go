package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hianidl/hianidl/internal/output"
	"github.com/hianidl/hianidl/internal/profiles"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage download profiles",
	}
	cmd.AddCommand(newProfilesListCmd())
	cmd.AddCommand(newProfilesSyncCmd())
	return cmd
}

func newProfilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available profiles",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			list, err := profiles.List(dataDir)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintHeader("Profiles")
			for _, profile := range list {
				fmt.Printf("  %-16s quality=%s audio=%s subs=%s\n",
					profile.Name, profile.Quality, profile.Audio, strings.Join(profile.SubtitleLangs, ","))
			}
		},
	}
}

func newProfilesSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [REPO_URL]",
		Short: "Sync profiles from a git repository",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := profiles.Sync(dataDir, args[0], func(line string) {
				fmt.Println(line)
			})
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintSuccess("Profiles synced")
		},
	}
}
