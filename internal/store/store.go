// Package store accumulates a measurement worker's observations across ticks
// and persists the merged snapshot the results facade serves.
//
// A pair's value only moves forward: once observed with a positive distance it
// is replaced by a later positive observation of the same pair and by nothing
// else. Ticks that miss the pair carry the value over and flag it as fallback.
// Pairs that were never observed are reported as null.
package store

import (
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"
)

var ErrPersistFailed = response.NewError(http.StatusInternalServerError, "snapshot persist failed")

type Store struct {
	config      entity.MeasurementConfig
	calibration entity.CalibrationDocument
	path        string

	specPairs  []int
	specByPair map[int]entity.MeasurementSpec

	measured map[int]entity.Observation
	fresh    map[int]bool
	tick     uint64
}

func New(config entity.MeasurementConfig, calibration entity.CalibrationDocument) *Store {
	s := &Store{
		config:      config,
		calibration: calibration,
		path:        filepath.Join(config.ResultsPath, entity.LiveSnapshotName),
		specByPair:  make(map[int]entity.MeasurementSpec, len(config.MeasurementSpecs)),
	}

	for i, spec := range config.MeasurementSpecs {
		pair := spec.Pair(i)
		s.specPairs = append(s.specPairs, pair)
		s.specByPair[pair] = spec
	}

	s.Reset()
	return s
}

// Reset drops every carried value. A new measurement request always starts
// from an empty table.
func (s *Store) Reset() {
	s.measured = make(map[int]entity.Observation)
	s.fresh = make(map[int]bool)
	s.tick = 0
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Tick() uint64 {
	return s.tick
}

// Merge folds one tick's observations into the table.
func (s *Store) Merge(observations entity.ObservationSet) {
	s.tick++
	s.fresh = make(map[int]bool, len(observations))

	for _, obs := range observations {
		if obs.DistanceCm <= 0 {
			continue
		}

		obs.IsFallback = false
		obs.Passes = Evaluate(s.specByPair[obs.PairID], obs.DistanceCm)
		s.measured[obs.PairID] = obs
		s.fresh[obs.PairID] = true
	}
}

func (s *Store) Lookup(pairID int) (entity.Observation, bool) {
	obs, ok := s.measured[pairID]
	if !ok {
		return entity.Observation{}, false
	}
	obs.IsFallback = !s.fresh[pairID]
	return obs, true
}

// Document renders the table as the snapshot persisted on this tick.
func (s *Store) Document(now time.Time) entity.LiveResultDocument {
	doc := entity.LiveResultDocument{
		Timestamp:      now,
		SessionID:      s.config.SessionID,
		AnnotationName: s.config.AnnotationName,
		ArticleStyle:   s.config.ArticleStyle,
		Side:           s.config.Side,
		GarmentColor:   s.config.GarmentColor,
		IsCalibrated:   s.calibration.Usable(),
		PixelsPerCm:    s.calibration.PixelsPerCm,
		Tick:           s.tick,
		ResultsPath:    s.config.ResultsPath,
		Measurements:   make([]entity.LiveMeasurement, 0, len(s.specPairs)),
	}

	if len(s.specPairs) == 0 {
		pairs := make([]int, 0, len(s.measured))
		for pair := range s.measured {
			pairs = append(pairs, pair)
		}
		sort.Ints(pairs)

		for _, pair := range pairs {
			entry := s.entry(pair, entity.MeasurementSpec{})
			entry.Name = fmt.Sprintf("Measurement %d", pair)
			doc.Measurements = append(doc.Measurements, entry)
		}
		return doc
	}

	for _, pair := range s.specPairs {
		doc.Measurements = append(doc.Measurements, s.entry(pair, s.specByPair[pair]))
	}
	return doc
}

func (s *Store) entry(pair int, spec entity.MeasurementSpec) entity.LiveMeasurement {
	plus, minus := spec.Tolerances()

	entry := entity.LiveMeasurement{
		ID:             pair,
		Name:           spec.Name,
		SpecCode:       spec.Code,
		ExpectedValue:  spec.ExpectedValue,
		TolerancePlus:  plus,
		ToleranceMinus: minus,
	}
	if entry.Name == "" {
		entry.Name = spec.Code
	}
	if spec.Code != "" || spec.ID != 0 {
		id := spec.ID
		entry.SpecID = &id
	}

	obs, ok := s.Lookup(pair)
	if !ok {
		return entry
	}

	distance := roundCm(obs.DistanceCm)
	entry.ActualCm = &distance
	entry.PixelDistance = roundCm(obs.PixelDistance)
	entry.QCPassed = obs.Passes
	entry.IsFallback = obs.IsFallback
	return entry
}

// Persist commits the current document to the results directory. The previous
// snapshot stays readable if the write fails.
func (s *Store) Persist(now time.Time) (entity.LiveResultDocument, error) {
	doc := s.Document(now)
	if err := fileutil.WriteJSONAtomic(s.path, doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return doc, nil
}

// roundCm keeps two decimals, the precision the operator UI displays.
func roundCm(v float64) float64 {
	return math.Round(v*100) / 100
}
