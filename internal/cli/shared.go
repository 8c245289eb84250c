package cli

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gittest/gittest/internal/model"
)

// resolveRevset shells out to `git rev-list` to expand a revset expression
// (a single ref, an A..B range, etc.) into an ordered list of commit ids,
// oldest first. Revset parsing itself is an external collaborator per the
// design's scope boundary; this is the minimal adapter the CLI needs to
// turn a user argument into a candidate set.
func resolveRevset(repoDir, revset string) ([]model.CommitID, error) {
	cmd := exec.Command("git", "rev-list", "--reverse", revset)
	cmd.Dir = repoDir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("resolving revset %q: %w: %s", revset, err, errBuf.String())
	}

	var commits []model.CommitID
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		commits = append(commits, model.CommitID(line))
	}
	return commits, nil
}
