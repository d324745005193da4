package measurementService

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"golang.org/x/net/context"
)

var exportedFiles = []string{
	"front_annotation.json",
	"front_reference.jpg",
	"back_annotation.json",
	"back_reference.jpg",
}

// ExportAnnotation copies the annotation and reference files of a bundled
// size folder into the operator library. Files already in the target are
// replaced.
func (s *measurementService) ExportAnnotation(
	ctx context.Context,
	req measurement.ExportAnnotationRequest,
) (measurement.ExportAnnotationResponse, error) {
	target := req.TargetName
	if strings.TrimSpace(target) == "" {
		target = req.AnnotationName
	}
	if !libraryName(req.AnnotationName) {
		return measurement.ExportAnnotationResponse{}, fmt.Errorf("%w: annotation name %q", measurement.ErrInvalidRequest, req.AnnotationName)
	}
	if !libraryName(target) {
		return measurement.ExportAnnotationResponse{}, fmt.Errorf("%w: target name %q", measurement.ErrInvalidRequest, target)
	}

	resp := measurement.ExportAnnotationResponse{
		Source:      filepath.Join(s.layout.BundledAnnotationsDir(), safeName(req.AnnotationName)),
		Target:      filepath.Join(s.layout.AnnotationsDir(), safeName(target)),
		CopiedFiles: []string{},
	}
	logger := log.WithRequestID(ctx).WithFields(log.Fields{
		"source": resp.Source,
		"target": resp.Target,
	})

	if info, err := os.Stat(resp.Source); err != nil || !info.IsDir() {
		return resp, fmt.Errorf("%w: %s", measurement.ErrAnnotationNotFound, resp.Source)
	}

	for _, name := range exportedFiles {
		src := filepath.Join(resp.Source, name)
		if !fileutil.Exists(src) {
			continue
		}
		if filepath.Clean(resp.Source) == filepath.Clean(resp.Target) {
			resp.CopiedFiles = append(resp.CopiedFiles, name)
			continue
		}

		data, err := os.ReadFile(src)
		if err != nil {
			logger.WithField("error", err.Error()).Error("Failed to read bundled annotation")
			return resp, err
		}
		if err := fileutil.WriteFileAtomic(filepath.Join(resp.Target, name), data, 0o644); err != nil {
			logger.WithField("error", err.Error()).Error("Failed to export annotation")
			return resp, err
		}
		resp.CopiedFiles = append(resp.CopiedFiles, name)
	}

	if len(resp.CopiedFiles) == 0 {
		return resp, fmt.Errorf("%w: %s holds no annotation files", measurement.ErrAnnotationNotFound, resp.Source)
	}

	logger.WithField("files", resp.CopiedFiles).Info("Annotation exported")
	return resp, nil
}
