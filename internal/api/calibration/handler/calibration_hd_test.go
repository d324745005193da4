package calibrationHandler

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/middleware"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/handlerUtil"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type fakeCalibration struct {
	startErr  error
	uploadErr error
	uploaded  []calibration.UploadCalibrationRequest
}

func (f *fakeCalibration) StartCalibration(_ context.Context, req calibration.StartCalibrationRequest) (calibration.StartCalibrationResponse, error) {
	if f.startErr != nil {
		return calibration.StartCalibrationResponse{}, f.startErr
	}
	return calibration.StartCalibrationResponse{SessionID: "01HCAL"}, nil
}

func (f *fakeCalibration) GetStatus(context.Context) (calibration.CalibrationStatus, error) {
	return calibration.CalibrationStatus{Calibrated: true, PixelsPerCm: 9.5, Status: "idle"}, nil
}

func (f *fakeCalibration) CancelCalibration(context.Context) (entity.ProcessRecord, error) {
	return entity.ProcessRecord{Kind: entity.WorkerCalibration, State: entity.SlotIdle}, nil
}

func (f *fakeCalibration) UploadCalibration(_ context.Context, req calibration.UploadCalibrationRequest) (entity.CalibrationDocument, error) {
	f.uploaded = append(f.uploaded, req)
	if f.uploadErr != nil {
		return entity.CalibrationDocument{}, f.uploadErr
	}
	return entity.CalibrationDocument{PixelsPerCm: req.PixelsPerCm, IsCalibrated: true}, nil
}

func newTestApp(svc *fakeCalibration) *fiber.App {
	return newLimitedTestApp(svc, 100, 100)
}

func newLimitedTestApp(svc *fakeCalibration, rps float64, burst int) *fiber.App {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mw := middleware.New(logger, rps, burst)
	app := fiber.New()
	app.Use(mw.NewRequestIDMiddleware())
	New(logger, validator.New(), mw, svc).Start(app.Group("/api"))
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, handlerUtil.ErrorResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var errResp handlerUtil.ErrorResponse
	data, _ := io.ReadAll(resp.Body)
	_ = jsoniter.Unmarshal(data, &errResp)
	return resp.StatusCode, errResp
}

func TestStartCalibration(t *testing.T) {
	tests := []struct {
		name       string
		svc        *fakeCalibration
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "accepted",
			svc:        &fakeCalibration{},
			body:       `{"reference_length_cm": 30, "reference_points": [[0,0],[300,0]]}`,
			wantStatus: fiber.StatusOK,
		},
		{
			name:       "missing length",
			svc:        &fakeCalibration{},
			body:       `{"reference_points": [[0,0],[300,0]]}`,
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "three reference points",
			svc:        &fakeCalibration{},
			body:       `{"reference_length_cm": 30, "reference_points": [[0,0],[1,1],[2,2]]}`,
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "already running",
			svc:        &fakeCalibration{startErr: supervisor.ErrAlreadyRunning},
			body:       `{"reference_length_cm": 30, "reference_points": [[0,0],[300,0]]}`,
			wantStatus: fiber.StatusConflict,
			wantCode:   "ALREADY_RUNNING",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, errResp := do(t, newTestApp(tt.svc), "POST", "/api/calibration/start", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if errResp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", errResp.Code, tt.wantCode)
			}
		})
	}
}

func TestUploadCalibration(t *testing.T) {
	svc := &fakeCalibration{}
	status, _ := do(t, newTestApp(svc), "POST", "/api/calibration/upload", `{"pixels_per_cm": 11.2, "is_calibrated": false}`)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(svc.uploaded) != 1 || svc.uploaded[0].IsCalibrated == nil || *svc.uploaded[0].IsCalibrated {
		t.Errorf("uploaded = %+v", svc.uploaded)
	}

	status, errResp := do(t, newTestApp(&fakeCalibration{uploadErr: calibration.ErrCalibrationBusy}), "POST", "/api/calibration/upload", `{"pixels_per_cm": 11.2}`)
	if status != fiber.StatusConflict || errResp.Code != "CALIBRATION_BUSY" {
		t.Errorf("busy upload: status=%d code=%q", status, errResp.Code)
	}

	status, errResp = do(t, newTestApp(&fakeCalibration{uploadErr: calibration.ErrInvalidScale}), "POST", "/api/calibration/upload", `{"pixels_per_cm": 0}`)
	if status != fiber.StatusBadRequest || errResp.Code != "INVALID_SCALE" {
		t.Errorf("zero scale: status=%d code=%q", status, errResp.Code)
	}
}

func TestStatusAndCancel(t *testing.T) {
	app := newTestApp(&fakeCalibration{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/calibration/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	var status calibration.CalibrationStatus
	if err := jsoniter.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Calibrated || status.PixelsPerCm != 9.5 {
		t.Errorf("status = %+v", status)
	}

	if code, _ := do(t, app, "POST", "/api/calibration/cancel", ""); code != fiber.StatusOK {
		t.Errorf("cancel status = %d", code)
	}
}

func TestCancelCalibration_NotRateLimited(t *testing.T) {
	app := newLimitedTestApp(&fakeCalibration{}, 1, 1)
	body := `{"reference_length_cm": 30, "reference_points": [[0,0],[300,0]]}`

	if code, _ := do(t, app, "POST", "/api/calibration/start", body); code != fiber.StatusOK {
		t.Fatalf("first start status = %d", code)
	}
	if code, errResp := do(t, app, "POST", "/api/calibration/start", body); code != fiber.StatusTooManyRequests {
		t.Fatalf("second start status = %d (%s), want the limiter to hold", code, errResp.Code)
	}

	for i := 0; i < 5; i++ {
		if code, _ := do(t, app, "POST", "/api/calibration/cancel", ""); code != fiber.StatusOK {
			t.Fatalf("cancel %d status = %d", i, code)
		}
	}
}
