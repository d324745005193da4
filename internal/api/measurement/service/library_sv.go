package measurementService

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"golang.org/x/net/context"
)

const (
	formatFile   = "file"
	formatFolder = "folder"
)

// ListAnnotations reports what the annotation library holds. A missing
// library is an empty list.
func (s *measurementService) ListAnnotations(ctx context.Context) (measurement.AnnotationList, error) {
	dir := s.layout.AnnotationsDir()
	list := measurement.AnnotationList{
		Annotations: []measurement.AnnotationInfo{},
		Path:        dir,
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return list, nil
	}
	if err != nil {
		s.log.WithFields(log.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"path":       dir,
			"error":      err.Error(),
		}).Error("Failed to read annotation library")
		return list, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		if entry.IsDir() {
			folder := filepath.Join(dir, name)
			info := measurement.AnnotationInfo{
				Name:          name,
				Size:          name,
				Format:        formatFolder,
				HasFront:      fileutil.Exists(filepath.Join(folder, "front_annotation.json")),
				HasBack:       fileutil.Exists(filepath.Join(folder, "back_annotation.json")),
				HasFrontImage: siblingImage(filepath.Join(folder, "front_reference")) != "",
				HasBackImage:  siblingImage(filepath.Join(folder, "back_reference")) != "",
			}
			if info.HasFront || info.HasBack {
				list.Annotations = append(list.Annotations, info)
			}
			continue
		}

		if !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		info := measurement.AnnotationInfo{
			Name:          base,
			Size:          base,
			Format:        formatFile,
			HasAnnotation: true,
			HasImage:      siblingImage(filepath.Join(dir, base)) != "",
		}
		if idx := strings.LastIndex(base, "_"); idx > 0 {
			style := base[:idx]
			info.ArticleStyle = &style
			info.Size = base[idx+1:]
		}
		list.Annotations = append(list.Annotations, info)
	}

	list.Count = len(list.Annotations)
	return list, nil
}

// GetAnnotationMeasurements reads the reference distances recorded on the
// front annotation of a library size folder.
func (s *measurementService) GetAnnotationMeasurements(ctx context.Context, size string) (measurement.AnnotationMeasurements, error) {
	folder := safeName(size)
	if !libraryName(size) {
		return measurement.AnnotationMeasurements{}, fmt.Errorf("%w: size %q", measurement.ErrInvalidRequest, size)
	}

	path := filepath.Join(s.layout.AnnotationsDir(), folder, "front_annotation.json")

	var geometry entity.Geometry
	err := fileutil.ReadJSON(path, &geometry)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return measurement.AnnotationMeasurements{}, fmt.Errorf("%w: %s", measurement.ErrAnnotationNotFound, size)
	case err != nil:
		s.log.WithFields(log.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"path":       path,
			"error":      err.Error(),
		}).Warn("Annotation unreadable")
		return measurement.AnnotationMeasurements{}, fmt.Errorf("%w: %v", measurement.ErrInvalidGeometry, err)
	}

	out := measurement.AnnotationMeasurements{
		Size:         size,
		Measurements: make([]measurement.ReferenceMeasurement, 0, len(geometry.ReferenceDistances)),
	}
	for i, distance := range geometry.ReferenceDistances {
		name := fmt.Sprintf("Measurement %d", i+1)
		if i < len(geometry.KeypointNames) && geometry.KeypointNames[i] != "" {
			name = geometry.KeypointNames[i]
		}
		out.Measurements = append(out.Measurements, measurement.ReferenceMeasurement{
			ID:             i + 1,
			Name:           name,
			ActualCm:       math.Round(distance*100) / 100,
			TolerancePlus:  entity.DefaultToleranceCm,
			ToleranceMinus: entity.DefaultToleranceCm,
		})
	}
	out.TotalMeasurements = len(out.Measurements)
	return out, nil
}
