package channel

import (
	"errors"
	"io/fs"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
)

// ReadCalibrationDocument returns the first usable calibration among
// candidates together with the path it came from. No usable document is not
// an error: the zero document reports is_calibrated false.
func ReadCalibrationDocument(candidates ...string) (entity.CalibrationDocument, string, error) {
	var firstErr error
	for _, path := range candidates {
		var doc entity.CalibrationDocument
		err := fileutil.ReadJSON(path, &doc)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if doc.Usable() {
			return doc, path, nil
		}
	}
	return entity.CalibrationDocument{}, "", firstErr
}

func WriteCalibrationDocument(path string, doc entity.CalibrationDocument) error {
	return New(path).Write(doc)
}
