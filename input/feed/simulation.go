package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/timestamp"
	"github.com/zamazir/THMmonitor/processor/beacon"
	"github.com/zamazir/THMmonitor/processor/conversion"
	"github.com/zamazir/THMmonitor/processor/decoder"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Formats of simulated THM messages.
const (
	SimFrame = "frame"
	SimJSON  = "json"
	SimCBOR  = "cbor"
)

// SimulationConfig configures SimulationSource. Count limits the number of
// ticks; zero runs until cancelled.
type SimulationConfig struct {
	Interval time.Duration `json:"interval"`
	Format   string        `json:"format"`
	Seed     int64         `json:"seed"`
	Count    int           `json:"count"`
}

// Simulator produces plausible thermal readings for every sensor of a
// layout. Values drift slowly around 25 °C with a little noise.
type Simulator struct {
	layout *decoder.Layout
	fields []decoder.FieldSpec

	mu    sync.Mutex
	rng   *rand.Rand
	step  int
	phase []float64
}

// NewSimulator creates a simulator for layout.
func NewSimulator(layout *decoder.Layout, seed int64) *Simulator {
	rng := rand.New(rand.NewSource(seed))
	var fields []decoder.FieldSpec
	for _, f := range layout.Fields() {
		switch f.Name {
		case telemetry.FieldTimestamp, telemetry.FieldStatus, telemetry.FieldTerminator:
			continue
		}
		fields = append(fields, f)
	}
	phase := make([]float64, len(fields))
	for i := range phase {
		phase[i] = rng.Float64() * 2 * math.Pi
	}
	return &Simulator{layout: layout, fields: fields, rng: rng, phase: phase}
}

// Values advances the simulation by one step and returns one value per
// sensor, each representable by the sensor's conversion.
func (s *Simulator) Values() (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step++
	out := make(map[string]float64, len(s.fields))
	for i, f := range s.fields {
		v := 25 + 4*math.Sin(2*math.Pi*float64(s.step)/600+s.phase[i]) + s.rng.NormFloat64()*0.2
		if f.Kind == conversion.BMX055 {
			// The BMX055 byte wraps below its offset.
			v = math.Max(v, 23)
		}
		if f.Kind == "" {
			out[f.Name] = math.Max(0, math.Round(v))
			continue
		}
		q, err := conversion.Quantize(f.Kind, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = q
	}
	return out, nil
}

// Frame encodes one binary THM record stamped t.
func (s *Simulator) Frame(t time.Time) ([]byte, error) {
	values, err := s.Values()
	if err != nil {
		return nil, err
	}
	return decoder.Encode(s.layout, []decoder.Record{{Time: t, Values: values}})
}

// TelemetryBeacon returns a THM beacon map stamped t carrying state.
func (s *Simulator) TelemetryBeacon(t time.Time, state telemetry.SystemState) (map[string]any, error) {
	values, err := s.Values()
	if err != nil {
		return nil, err
	}
	m := metadata(t)
	for name, v := range values {
		m[name] = v
	}
	m["THM System State"] = int(state)
	return m, nil
}

// ClockBeacon returns a CDH beacon map stamped t.
func (s *Simulator) ClockBeacon(t time.Time) map[string]any {
	return metadata(t)
}

func metadata(t time.Time) map[string]any {
	return map[string]any{
		beacon.KeyTimestamp: timestamp.FormatBeacon(t),
		beacon.KeyVersion:   1,
		beacon.KeySource:    "simulation",
		beacon.KeySourceID:  0,
	}
}

// state returns WARNING for roughly one tick in fifty.
func (s *Simulator) state() telemetry.SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Intn(50) == 0 {
		return telemetry.StateWarning
	}
	return telemetry.StateOK
}

// SimulationSource emits a CDH clock beacon and a THM message every
// interval.
type SimulationSource struct {
	cfg      SimulationConfig
	sim      *Simulator
	logger   *slog.Logger
	clockKey string
	thmKey   string
	now      func() time.Time
}

// NewSimulationSource creates a source driven by sim.
func NewSimulationSource(cfg SimulationConfig, sim *Simulator, logger *slog.Logger) *SimulationSource {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Format == "" {
		cfg.Format = SimFrame
	}
	if logger == nil {
		logger = slog.Default().With("component", "feed")
	}
	return &SimulationSource{
		cfg:      cfg,
		sim:      sim,
		logger:   logger,
		clockKey: beacon.DefaultClockKey,
		thmKey:   beacon.DefaultTelemetryKey,
		now:      time.Now,
	}
}

// Name implements Source.
func (s *SimulationSource) Name() string { return TransportSimulation }

// Run emits messages until ctx is done or Count ticks have passed.
func (s *SimulationSource) Run(ctx context.Context, handle Handler) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Simulating beacons", "interval", s.cfg.Interval, "format", s.cfg.Format)

	for tick := 1; ; tick++ {
		if err := s.emit(ctx, handle); err != nil {
			return err
		}
		if s.cfg.Count > 0 && tick >= s.cfg.Count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *SimulationSource) emit(ctx context.Context, handle Handler) error {
	now := s.now()
	stamp := now.Truncate(time.Second)

	clock, err := json.Marshal(s.sim.ClockBeacon(stamp))
	if err != nil {
		return errors.WrapFatal(err, "SimulationSource", "emit", "marshal clock beacon")
	}
	handle(ctx, Message{RoutingKey: s.clockKey, Body: clock, Received: now, Source: TransportSimulation})

	var body []byte
	switch s.cfg.Format {
	case SimFrame:
		body, err = s.sim.Frame(stamp)
	case SimJSON, SimCBOR:
		var m map[string]any
		m, err = s.sim.TelemetryBeacon(stamp, s.sim.state())
		if err == nil && s.cfg.Format == SimJSON {
			body, err = json.Marshal(m)
		} else if err == nil {
			body, err = cbor.Marshal(m)
		}
	default:
		err = fmt.Errorf("%w: unknown simulation format %q", errors.ErrInvalidConfig, s.cfg.Format)
	}
	if err != nil {
		return errors.WrapFatal(err, "SimulationSource", "emit", "build THM message")
	}

	handle(ctx, Message{RoutingKey: s.thmKey, Body: body, Received: now, Source: TransportSimulation})
	return nil
}
