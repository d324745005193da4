// Package readiness lets a worker announce it finished startup and lets the
// supervisor check the announcement belongs to the process it launched.
package readiness

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
)

type Marker struct {
	PID     int               `json:"pid"`
	Kind    entity.WorkerKind `json:"kind"`
	ReadyAt time.Time         `json:"ready_at"`
}

func Mark(path string, kind entity.WorkerKind, pid int) error {
	return fileutil.WriteJSONAtomic(path, Marker{PID: pid, Kind: kind, ReadyAt: time.Now()})
}

// Clear removes the marker; a missing marker is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// FileProbe reports a process ready once its marker names the same pid.
type FileProbe struct {
	Path string
}

func (p FileProbe) Ready(pid int) (bool, error) {
	var marker Marker
	err := fileutil.ReadJSON(p.Path, &marker)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return marker.PID == pid, nil
}

func (p FileProbe) Reset() error {
	return Clear(p.Path)
}
