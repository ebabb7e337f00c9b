// Package profiles manages named download profiles: quality, audio and
// subtitle preferences applied to jobs. Profiles are YAML files under the
// data dir and can be synced from a git repository.
package profiles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/hianidl/hianidl/internal/utils"
)

type Profile struct {
	Name          string   `yaml:"name"`
	Quality       string   `yaml:"quality"`
	Audio         string   `yaml:"audio"`
	SubtitleLangs []string `yaml:"subtitle_langs"`
	Connections   int      `yaml:"connections"`
	ExtraArgs     []string `yaml:"extra_args"`
}

// Default is used when no profile is named and no "default.yaml" exists.
var Default = Profile{
	Name:          "default",
	Quality:       "best",
	Audio:         "sub",
	SubtitleLangs: []string{"en"},
	Connections:   4,
}

var validQualities = map[string]bool{
	"best":  true,
	"1080p": true,
	"720p":  true,
	"480p":  true,
}

func (p *Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile has no name")
	}
	if p.Quality != "" && !validQualities[p.Quality] {
		return fmt.Errorf("invalid quality %q in profile %s", p.Quality, p.Name)
	}
	if p.Audio != "" && p.Audio != "sub" && p.Audio != "dub" {
		return fmt.Errorf("invalid audio %q in profile %s", p.Audio, p.Name)
	}
	return nil
}

// applyDefaults fills unset fields from Default.
func (p *Profile) applyDefaults() {
	if p.Quality == "" {
		p.Quality = Default.Quality
	}
	if p.Audio == "" {
		p.Audio = Default.Audio
	}
	if len(p.SubtitleLangs) == 0 {
		p.SubtitleLangs = Default.SubtitleLangs
	}
	if p.Connections < 1 {
		p.Connections = Default.Connections
	}
}

// Dir returns the profiles directory under the data dir.
func Dir(dataDir string) string {
	return filepath.Join(dataDir, "profiles")
}

// Load resolves a profile by name. The empty name loads "default", falling
// back to the built-in default when no file exists.
func Load(dataDir, name string) (Profile, error) {
	if name == "" {
		name = "default"
	}
	path := filepath.Join(Dir(dataDir), name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && name == "default" {
			return Default, nil
		}
		return Profile{}, fmt.Errorf("error reading profile %s: %v", name, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return Profile{}, fmt.Errorf("error parsing profile %s: %v", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	if err := profile.validate(); err != nil {
		return Profile{}, err
	}
	profile.applyDefaults()
	return profile, nil
}

// List returns all profiles in the profiles dir, sorted by name. The built-in
// default is included when no default.yaml overrides it.
func List(dataDir string) ([]Profile, error) {
	entries, err := os.ReadDir(Dir(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []Profile{Default}, nil
		}
		return nil, fmt.Errorf("error reading profiles directory: %v", err)
	}
	log := utils.GetLogger("profiles")
	var result []Profile
	haveDefault := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		profile, err := Load(dataDir, name)
		if err != nil {
			log.Warn().Str("op", "list").Str("profile", name).Err(err).Msg("Skipping unreadable profile")
			continue
		}
		if profile.Name == "default" {
			haveDefault = true
		}
		result = append(result, profile)
	}
	if !haveDefault {
		result = append(result, Default)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
