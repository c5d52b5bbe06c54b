package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// Represents the 'imgbuild inspect' command.
type InspectCmd struct {
	Archive string `arg:"" help:"Path to an exported image.tar." type:"existingfile"`
}

// Summary of an exported image.
type archiveInfo struct {
	Digest     string            `json:"digest"`
	Entrypoint []string          `json:"entrypoint,omitempty"`
	Cmd        []string          `json:"cmd,omitempty"`
	Env        []string          `json:"env,omitempty"`
	WorkingDir string            `json:"workingDir,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Layers     int               `json:"layers"`
	History    []string          `json:"history,omitempty"`
}

// Executes the inspect command, printing the summary as JSON.
func (c *InspectCmd) Run(ctx context.Context) error {
	info, err := inspectArchive(c.Archive)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// Reads the single image in an archive.
func inspectArchive(path string) (*archiveInfo, error) {
	img, err := tarball.ImageFromPath(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}

	info := &archiveInfo{
		Digest:     digest.String(),
		Entrypoint: cfg.Config.Entrypoint,
		Cmd:        cfg.Config.Cmd,
		Env:        cfg.Config.Env,
		WorkingDir: cfg.Config.WorkingDir,
		Labels:     cfg.Config.Labels,
		Layers:     len(layers),
	}
	for _, h := range cfg.History {
		if h.CreatedBy != "" {
			info.History = append(info.History, h.CreatedBy)
		}
	}
	return info, nil
}
