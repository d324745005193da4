package measurementService

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
)

const (
	SourceDatabase           = "database"
	SourceDatabaseConverted  = "database_converted"
	SourceDatabaseKeypoints  = "database_keypoints"
	SourceDatabaseLocalImage = "database_with_local_image"
	SourceExplicitPath       = "explicit_path"
	SourceLibrary            = "library"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

type resolvedAnnotation struct {
	JSONPath  string
	ImagePath string
	Source    string
}

var unsafeNameChars = strings.NewReplacer("/", "_", `\`, "_")

func safeName(s string) string {
	return unsafeNameChars.Replace(strings.TrimSpace(s))
}

// libraryName reports whether s, once made safe, stays inside the
// annotation library when joined onto it.
func libraryName(s string) bool {
	name := safeName(s)
	return name != "" && name != "." && name != ".."
}

func colorCode(explicit, garmentColor string) string {
	if code := strings.TrimSpace(explicit); code != "" {
		return strings.ToLower(code)
	}
	switch strings.ToLower(strings.TrimSpace(garmentColor)) {
	case "white":
		return "w"
	case "black":
		return "b"
	}
	return "z"
}

// resolveAnnotation finds or writes the annotation document for a start
// request. Geometry sent inline wins over anything on disk; the library is
// the last resort.
func (s *measurementService) resolveAnnotation(
	req measurement.StartMeasurementRequest,
	side, code string,
	now time.Time,
) (resolvedAnnotation, error) {
	style := safeName(req.ArticleStyle)
	name := safeName(req.AnnotationName)
	prefix := name
	if style != "" {
		prefix = style + "_" + name
	}

	hasKeypoints := req.KeypointsPixels.Set && len(req.KeypointsPixels.Value) > 0
	hasPercentages := req.AnnotationData.Set && len(req.AnnotationData.Value) > 0
	hasImage := strings.TrimSpace(req.ImageData) != ""

	switch {
	case hasKeypoints && hasImage:
		return s.materializeInline(req, prefix, side, code, now)
	case hasPercentages && hasImage:
		return s.materializePercentages(req, prefix, side, code, now)
	case hasKeypoints:
		return s.materializeKeypointsOnly(req, style, name, prefix, side, code, now)
	}

	if path := strings.TrimSpace(req.AnnotationJSONPath); path != "" && fileutil.Exists(path) {
		image := strings.TrimSpace(req.ReferenceImagePath)
		if image == "" || !fileutil.Exists(image) {
			image = siblingImage(strings.TrimSuffix(path, filepath.Ext(path)))
		}
		return resolvedAnnotation{JSONPath: path, ImagePath: image, Source: SourceExplicitPath}, nil
	}

	if found, ok := s.lookupLibrary(style, name, side); ok {
		if image := strings.TrimSpace(req.ReferenceImagePath); image != "" && fileutil.Exists(image) {
			found.ImagePath = image
		}
		return found, nil
	}

	return resolvedAnnotation{}, fmt.Errorf("%w: %s (%s)", measurement.ErrAnnotationNotFound, req.AnnotationName, side)
}

func (s *measurementService) materializeInline(
	req measurement.StartMeasurementRequest,
	prefix, side, code string,
	now time.Time,
) (resolvedAnnotation, error) {
	base := fmt.Sprintf("%s-%s", prefix, code)

	imagePath, width, height, err := s.materializeImage(req, base)
	if err != nil {
		return resolvedAnnotation{}, err
	}
	if req.ImageWidth > 0 && req.ImageHeight > 0 {
		width, height = req.ImageWidth, req.ImageHeight
	}

	keypoints, err := validKeypoints(req.KeypointsPixels.Value)
	if err != nil {
		return resolvedAnnotation{}, err
	}

	geometry := s.inlineGeometry(req, keypoints, side, SourceDatabase, now)
	geometry.ImageWidth, geometry.ImageHeight = width, height

	jsonPath := filepath.Join(s.layout.TempAnnotationsDir(), base+".json")
	if err := writeGeometry(jsonPath, geometry); err != nil {
		return resolvedAnnotation{}, err
	}
	return resolvedAnnotation{JSONPath: jsonPath, ImagePath: imagePath, Source: SourceDatabase}, nil
}

// materializePercentages places percentage keypoints on the decoded image.
func (s *measurementService) materializePercentages(
	req measurement.StartMeasurementRequest,
	prefix, side, code string,
	now time.Time,
) (resolvedAnnotation, error) {
	base := fmt.Sprintf("%s-%s", prefix, code)

	imagePath, width, height, err := s.materializeImage(req, base)
	if err != nil {
		return resolvedAnnotation{}, err
	}

	keypoints := make([][]float64, 0, len(req.AnnotationData.Value))
	names := make([]string, 0, len(req.AnnotationData.Value))
	labelled := false
	for _, point := range req.AnnotationData.Value {
		keypoints = append(keypoints, []float64{
			point.X / 100 * float64(width),
			point.Y / 100 * float64(height),
		})
		names = append(names, point.Label)
		if point.Label != "" {
			labelled = true
		}
	}

	if keypoints, err = validKeypoints(keypoints); err != nil {
		return resolvedAnnotation{}, err
	}

	geometry := s.inlineGeometry(req, keypoints, side, SourceDatabaseConverted, now)
	geometry.ImageWidth, geometry.ImageHeight = width, height
	if labelled {
		geometry.KeypointNames = names
	}

	jsonPath := filepath.Join(s.layout.TempAnnotationsDir(), base+".json")
	if err := writeGeometry(jsonPath, geometry); err != nil {
		return resolvedAnnotation{}, err
	}
	return resolvedAnnotation{JSONPath: jsonPath, ImagePath: imagePath, Source: SourceDatabaseConverted}, nil
}

// materializeKeypointsOnly writes inline keypoints that arrived without an
// image and pairs them with a library image when one exists.
func (s *measurementService) materializeKeypointsOnly(
	req measurement.StartMeasurementRequest,
	style, name, prefix, side, code string,
	now time.Time,
) (resolvedAnnotation, error) {
	keypoints, err := validKeypoints(req.KeypointsPixels.Value)
	if err != nil {
		return resolvedAnnotation{}, err
	}

	imagePath := strings.TrimSpace(req.ReferenceImagePath)
	if imagePath == "" || !fileutil.Exists(imagePath) {
		imagePath = ""
		dir := s.layout.AnnotationsDir()
		for _, base := range []string{prefix + "_" + side, prefix} {
			if found := siblingImage(filepath.Join(dir, base)); found != "" {
				imagePath = found
				break
			}
		}
	}

	source := SourceDatabaseKeypoints
	if imagePath != "" {
		source = SourceDatabaseLocalImage
	}

	geometry := s.inlineGeometry(req, keypoints, side, source, now)
	geometry.ImageWidth, geometry.ImageHeight = req.ImageWidth, req.ImageHeight

	jsonPath := filepath.Join(s.layout.TempAnnotationsDir(), fmt.Sprintf("%s_%s-%s.json", prefix, side, code))
	if err := writeGeometry(jsonPath, geometry); err != nil {
		return resolvedAnnotation{}, err
	}
	return resolvedAnnotation{JSONPath: jsonPath, ImagePath: imagePath, Source: source}, nil
}

// materializeImage writes the inline reference image as JPEG. An image smaller
// than the annotated dimensions is upscaled so keypoints land on the pixels
// they were placed on.
func (s *measurementService) materializeImage(req measurement.StartMeasurementRequest, base string) (string, int, int, error) {
	img, err := s.utils.DecodeBase64Image(req.ImageData)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", measurement.ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	if req.ImageWidth > 0 && req.ImageHeight > 0 &&
		(bounds.Dx() < req.ImageWidth || bounds.Dy() < req.ImageHeight) {
		img = s.utils.FitReferenceImage(img, req.ImageWidth, req.ImageHeight)
		bounds = img.Bounds()
	}

	data, err := s.utils.EncodeJPEG(img)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", measurement.ErrInvalidImage, err)
	}

	path := filepath.Join(s.layout.TempAnnotationsDir(), base+".jpg")
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", channel.ErrIOFailure, err)
	}
	return path, bounds.Dx(), bounds.Dy(), nil
}

func (s *measurementService) inlineGeometry(
	req measurement.StartMeasurementRequest,
	keypoints [][]float64,
	side, source string,
	now time.Time,
) entity.Geometry {
	return entity.Geometry{
		Keypoints:       keypoints,
		TargetDistances: req.TargetDistances.Value,
		PlacementBox:    req.PlacementBox.Value,
		AnnotationDate:  now.Format(time.RFC3339),
		Source:          source,
		ArticleStyle:    req.ArticleStyle,
		Size:            req.AnnotationName,
		Side:            side,
	}
}

// lookupLibrary searches the annotation library, most specific name first.
func (s *measurementService) lookupLibrary(style, name, side string) (resolvedAnnotation, bool) {
	dir := s.layout.AnnotationsDir()

	var files []string
	if style != "" {
		files = append(files,
			fmt.Sprintf("%s_%s_%s", style, name, side),
			fmt.Sprintf("%s_%s", style, name),
		)
	}
	files = append(files, name)

	for _, base := range files {
		path := filepath.Join(dir, base+".json")
		if fileutil.Exists(path) {
			return resolvedAnnotation{
				JSONPath:  path,
				ImagePath: siblingImage(filepath.Join(dir, base)),
				Source:    SourceLibrary,
			}, true
		}
	}

	var folders []string
	if style != "" {
		folders = append(folders, filepath.Join(dir, style, name))
	}
	folders = append(folders, filepath.Join(dir, name))

	for _, folder := range folders {
		path := filepath.Join(folder, side+"_annotation.json")
		if fileutil.Exists(path) {
			return resolvedAnnotation{
				JSONPath:  path,
				ImagePath: siblingImage(filepath.Join(folder, side+"_reference")),
				Source:    SourceLibrary,
			}, true
		}
	}
	return resolvedAnnotation{}, false
}

// siblingImage returns the first existing image at base with a known extension.
func siblingImage(base string) string {
	for _, ext := range imageExtensions {
		if path := base + ext; fileutil.Exists(path) {
			return path
		}
	}
	return ""
}

func validKeypoints(points [][]float64) ([][]float64, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: at least one keypoint pair is required", measurement.ErrInvalidGeometry)
	}
	out := make([][]float64, len(points))
	for i, point := range points {
		if len(point) < 2 {
			return nil, fmt.Errorf("%w: keypoint %d has %d coordinates", measurement.ErrInvalidGeometry, i, len(point))
		}
		out[i] = []float64{point[0], point[1]}
	}
	return out, nil
}

func writeGeometry(path string, geometry entity.Geometry) error {
	if err := fileutil.WriteJSONAtomic(path, geometry); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrIOFailure, err)
	}
	return nil
}
