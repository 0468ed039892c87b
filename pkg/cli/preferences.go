package cli

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// preferencesFile is the YAML form of a comic request. Image paths are relative to
// the file.
type preferencesFile struct {
	model.Preferences `yaml:",inline"`
	Images            []string `yaml:"images"`
}

type request struct {
	file  string
	prefs model.Preferences
	paths []string
}

func requestFlags(req *request) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "preferences",
			Aliases:     []string{"f"},
			Usage:       "YAML file with mood, story_type, description, art_style and images",
			Sources:     cli.EnvVars("COMICFORGE_PREFERENCES"),
			Destination: &req.file,
		},
		&cli.StringSliceFlag{
			Name:        "image",
			Aliases:     []string{"i"},
			Usage:       "Reference photo of the main character (repeatable)",
			Destination: &req.paths,
		},
		&cli.StringFlag{
			Name:        "mood",
			Usage:       "Mood of the story, e.g. " + strings.Join(model.Moods, ", "),
			Destination: &req.prefs.Mood,
		},
		&cli.StringFlag{
			Name:        "story-type",
			Usage:       "Kind of story, e.g. " + strings.Join(model.StoryTypes, ", "),
			Destination: &req.prefs.StoryType,
		},
		&cli.StringFlag{
			Name:        "description",
			Usage:       "Free text description of the story",
			Destination: &req.prefs.Description,
		},
		&cli.StringFlag{
			Name:        "art-style",
			Usage:       "Art style of the comic (required)",
			Destination: &req.prefs.ArtStyle,
		},
	}
}

// resolve merges the preferences file with flags. Flags win over the file.
func (r *request) resolve() (model.Preferences, []string, error) {
	prefs := r.prefs
	paths := r.paths

	if r.file == "" {
		return prefs, paths, nil
	}

	raw, err := os.ReadFile(r.file)
	if err != nil {
		return prefs, nil, goerr.Wrap(err, "failed to read preferences file", goerr.V("path", r.file))
	}

	var pf preferencesFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return prefs, nil, goerr.Wrap(err, "failed to parse preferences file", goerr.V("path", r.file))
	}

	if prefs.Mood == "" {
		prefs.Mood = pf.Mood
	}
	if prefs.StoryType == "" {
		prefs.StoryType = pf.StoryType
	}
	if prefs.Description == "" {
		prefs.Description = pf.Description
	}
	if prefs.ArtStyle == "" {
		prefs.ArtStyle = pf.ArtStyle
	}

	if len(paths) == 0 {
		base := filepath.Dir(r.file)
		for _, p := range pf.Images {
			if !filepath.IsAbs(p) {
				p = filepath.Join(base, p)
			}
			paths = append(paths, p)
		}
	}

	return prefs, paths, nil
}

func readReferenceImages(paths []string) ([]model.ReferenceImage, error) {
	images := make([]model.ReferenceImage, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read reference image", goerr.V("path", path))
		}
		images = append(images, model.ReferenceImage{
			Data:     data,
			MIMEType: http.DetectContentType(data),
		})
	}
	return images, nil
}
