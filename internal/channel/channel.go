// Package channel is the one-way handoff of a worker's configuration from the
// host to the worker process. The host is the only writer and writes only
// while the worker slot is not running; the worker reads once at startup.
package channel

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"
)

var (
	ErrIOFailure     = response.NewError(http.StatusInternalServerError, "config channel write failed")
	ErrConfigMissing = response.NewError(http.StatusInternalServerError, "worker config not found")
	ErrConfigInvalid = response.NewError(http.StatusInternalServerError, "worker config unreadable")
)

type Channel struct {
	path string
}

func New(path string) *Channel {
	return &Channel{path: path}
}

func ForMeasurement(layout paths.Layout) *Channel {
	return New(layout.MeasurementConfigFile())
}

func ForCalibration(layout paths.Layout) *Channel {
	return New(layout.CalibrationConfigFile())
}

func ForRegistration(layout paths.Layout) *Channel {
	return New(layout.RegistrationConfigFile())
}

func (c *Channel) Path() string {
	return c.path
}

// Write replaces the document atomically.
func (c *Channel) Write(config interface{}) error {
	if err := fileutil.WriteJSONAtomic(c.path, config); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}

func (c *Channel) Read(into interface{}) error {
	err := fileutil.ReadJSON(c.path, into)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrConfigMissing, c.path)
	default:
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
}

func (c *Channel) ReadMeasurement() (entity.MeasurementConfig, error) {
	var cfg entity.MeasurementConfig
	err := c.Read(&cfg)
	return cfg, err
}

func (c *Channel) ReadCalibration() (entity.CalibrationConfig, error) {
	var cfg entity.CalibrationConfig
	err := c.Read(&cfg)
	return cfg, err
}

func (c *Channel) ReadRegistration() (entity.RegistrationConfig, error) {
	var cfg entity.RegistrationConfig
	err := c.Read(&cfg)
	return cfg, err
}
