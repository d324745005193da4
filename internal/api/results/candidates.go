package results

import (
	"path/filepath"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
)

// LiveThresholdSeconds is the snapshot age under which a worker is considered
// to be actively writing.
const LiveThresholdSeconds = 30

type Candidate struct {
	Dir    string
	Legacy bool
}

func (c Candidate) Snapshot() string {
	return filepath.Join(c.Dir, entity.LiveSnapshotName)
}

// Candidates lists the directories a live snapshot may be found in, most
// authoritative first: the results path of the current measurement config,
// the storage results directory, then the legacy app-root directory.
func Candidates(layout paths.Layout) []Candidate {
	var dirs []Candidate
	seen := make(map[string]bool)
	add := func(dir string, legacy bool) {
		if dir == "" {
			return
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, Candidate{Dir: dir, Legacy: legacy})
	}

	if cfg, err := channel.ForMeasurement(layout).ReadMeasurement(); err == nil {
		add(cfg.ResultsPath, false)
	}
	add(layout.ResultsDir(), false)
	add(layout.LegacyResultsDir(), true)
	return dirs
}
