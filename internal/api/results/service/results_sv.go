package resultsService

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// GetLive returns the freshest live snapshot among the candidate directories.
// When two candidates hold a snapshot the newer file wins, and on equal
// modification times the more authoritative candidate wins.
func (s *resultsService) GetLive(ctx context.Context) (Snapshot, error) {
	requestID := contextPkg.GetRequestID(ctx)

	var (
		best  Snapshot
		found bool
	)
	for _, candidate := range results.Candidates(s.layout) {
		snap, err := readSnapshot(candidate.Snapshot())
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"path":       candidate.Snapshot(),
				"error":      err.Error(),
			}).Warn("Live snapshot candidate unreadable")
			continue
		}
		snap.Legacy = candidate.Legacy

		if !found || snap.ModTime.After(best.ModTime) {
			best, found = snap, true
		}
	}

	if !found {
		return Snapshot{}, results.ErrNotFound
	}

	if best.Legacy {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"path":       best.Path,
		}).Debug("Serving live snapshot from legacy results directory")
	}
	return best, nil
}

// GetLatest returns the most recently written results document of any name.
func (s *resultsService) GetLatest(ctx context.Context) (Snapshot, error) {
	requestID := contextPkg.GetRequestID(ctx)

	var (
		latestPath string
		latestInfo fs.FileInfo
	)
	for _, candidate := range results.Candidates(s.layout) {
		if candidate.Legacy {
			continue
		}

		entries, err := os.ReadDir(candidate.Dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if latestInfo == nil || info.ModTime().After(latestInfo.ModTime()) {
				latestPath, latestInfo = filepath.Join(candidate.Dir, entry.Name()), info
			}
		}
	}

	if latestInfo == nil {
		return Snapshot{}, results.ErrNotFound
	}

	snap, err := readSnapshot(latestPath)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"path":       latestPath,
			"error":      err.Error(),
		}).Error("Failed to read latest results")
		return Snapshot{}, fmt.Errorf("%w: %v", results.ErrReadFailed, err)
	}
	return snap, nil
}

// readSnapshot takes the modification time from the open file so it belongs
// to the bytes returned even if the worker renames a new snapshot in between.
func readSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Snapshot{}, err
	}
	body, err := io.ReadAll(f)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Body: body, ModTime: info.ModTime()}, nil
}
