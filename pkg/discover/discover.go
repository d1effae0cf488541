// Package discover finds the binary-producing workspace packages in a
// Cargo workspace, by shelling out to `cargo metadata`.
package discover

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/types"
)

// metadataExport mirrors the subset of `cargo metadata --format-version=1`
// JSON output paddock cares about.
type metadataExport struct {
	Packages []metadataPackage `json:"packages"`
}

type metadataPackage struct {
	Name    string            `json:"name"`
	ID      string            `json:"id"`
	Targets []metadataTarget  `json:"targets"`
}

type metadataTarget struct {
	Name string   `json:"name"`
	Kind []string `json:"kind"`
}

// pathFileScheme is the cargo package id scheme used for workspace-local
// packages, as opposed to registry or git dependencies.
const pathFileScheme = "path+file"

// Discover runs `cargo metadata` against workspaceDir and returns every
// workspace-local package that produces at least one `bin` target.
func Discover(ctx context.Context, workspaceDir string) ([]types.Artifact, error) {
	cmd := exec.CommandContext(ctx, "cargo", "metadata", "--format-version=1", "--no-deps")
	cmd.Dir = workspaceDir
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		return nil, paddockerr.NewToolchainFailure(err, "cargo metadata failed: %s", stderr)
	}

	var export metadataExport
	if err := json.Unmarshal(out, &export); err != nil {
		return nil, paddockerr.NewToolchainFailure(err, "failed to parse cargo metadata output")
	}

	var artifacts []types.Artifact
	for _, pkg := range export.Packages {
		if !strings.HasPrefix(pkg.ID, pathFileScheme+"+") && !strings.HasPrefix(pkg.ID, pathFileScheme+"://") {
			continue
		}
		for _, target := range pkg.Targets {
			if hasKind(target.Kind, "bin") {
				artifacts = append(artifacts, types.Artifact{Name: target.Name, ID: pkg.ID})
				break
			}
		}
	}
	return artifacts, nil
}

func hasKind(kinds []string, want string) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
