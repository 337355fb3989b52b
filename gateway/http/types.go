package http

import (
	"time"

	"github.com/zamazir/THMmonitor/engine"
	"github.com/zamazir/THMmonitor/input/feed"
	"github.com/zamazir/THMmonitor/processor/analysis"
	"github.com/zamazir/THMmonitor/processor/periodicity"
	"github.com/zamazir/THMmonitor/telemetry"
)

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// pathRequest is the body of POST /api/load and POST /api/ambient.
type pathRequest struct {
	Path string `json:"path"`
}

type seriesResponse struct {
	Sensor  string            `json:"sensor"`
	Average int               `json:"average"`
	Points  []telemetry.Point `json:"points"`
}

type spikesResponse struct {
	Sensor     string              `json:"sensor"`
	Thresholds analysis.Thresholds `json:"thresholds"`
	Spikes     []time.Time         `json:"spikes"`
}

type periodicityResponse struct {
	periodicity.Status
	// Line is the status line shown to operators.
	Line string `json:"line"`
}

type statsResponse struct {
	Session engine.Stats      `json:"session"`
	Feed    *feed.RunnerStats `json:"feed,omitempty"`
}

type ambientSummary struct {
	Path     string `json:"path"`
	Actual   int    `json:"actual"`
	Setpoint int    `json:"setpoint"`
}

type feedResponse struct {
	Running bool `json:"running"`
}
