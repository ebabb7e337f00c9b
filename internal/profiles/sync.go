package profiles

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/hianidl/hianidl/internal/utils"
)

type syncProgress struct {
	streamFunc func(string)
}

func (p *syncProgress) Write(data []byte) (int, error) {
	message := strings.TrimSpace(string(data))
	if message != "" && p.streamFunc != nil {
		p.streamFunc(message)
	}
	return len(data), nil
}

// Sync clones repoURL into the profiles dir, or pulls when a clone already
// exists. The repository is expected to hold profile YAML files at its root.
func Sync(dataDir, repoURL string, streamFunc func(string)) error {
	log := utils.GetLogger("profiles")
	dir := Dir(dataDir)
	progress := &syncProgress{streamFunc: streamFunc}

	repo, err := git.PlainOpen(dir)
	if err == git.ErrRepositoryNotExists {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating profiles directory: %v", err)
		}
		if streamFunc != nil {
			streamFunc(fmt.Sprintf("Cloning %s", repoURL))
		}
		_, err = git.PlainClone(dir, false, &git.CloneOptions{
			URL:      repoURL,
			Depth:    1,
			Progress: progress,
		})
		if err != nil {
			return fmt.Errorf("git clone failed: %v", err)
		}
		log.Info().Str("op", "sync").Str("repo", repoURL).Msg("Profiles cloned")
		return nil
	}
	if err != nil {
		return fmt.Errorf("error opening profiles repository: %v", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("error opening worktree: %v", err)
	}
	if streamFunc != nil {
		streamFunc("Pulling latest profiles")
	}
	err = worktree.Pull(&git.PullOptions{
		Depth:    1,
		Progress: progress,
	})
	if err == git.NoErrAlreadyUpToDate {
		log.Info().Str("op", "sync").Msg("Profiles already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("git pull failed: %v", err)
	}
	log.Info().Str("op", "sync").Msg("Profiles updated")
	return nil
}
