// Package timeseries keeps one time-ordered series per sensor for the
// lifetime of a session and records conflicting samples.
package timeseries

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/telemetry"
)

type series struct {
	points []telemetry.Point
	index  map[instant]float64
}

// instant keys a sample by second and nanosecond. UnixNano is undefined
// before 1678, which includes the zero time of readings decoded before any
// timestamp.
type instant struct {
	sec  int64
	nsec int
}

func instantOf(t time.Time) instant {
	return instant{sec: t.Unix(), nsec: t.Nanosecond()}
}

// Store owns every sensor series. Reads take snapshots under a read lock.
// Append is safe for concurrent callers but the session engine serializes
// writers so that batches merge in arrival order.
type Store struct {
	mu         sync.RWMutex
	series     map[string]*series
	duplicates []telemetry.DuplicateRecord
	points     int
	metrics    *storeMetrics
}

// New creates an empty store. A nil registry disables metrics.
func New(registry *metric.MetricsRegistry) (*Store, error) {
	m, err := newStoreMetrics(registry)
	if err != nil {
		return nil, err
	}
	return &Store{
		series:  make(map[string]*series),
		metrics: m,
	}, nil
}

// Append merges readings into their series and returns the conflicts found
// in this call. A reading at a timestamp already holding a different value
// is rejected and recorded; the earlier value stays. A reading identical to
// the stored sample is ignored.
func (s *Store) Append(readings []telemetry.Reading) []telemetry.DuplicateRecord {
	if len(readings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dups []telemetry.DuplicateRecord
	unsorted := make(map[string]*series)
	inserted := 0

	for _, r := range readings {
		ser, ok := s.series[r.Sensor]
		if !ok {
			ser = &series{index: make(map[instant]float64)}
			s.series[r.Sensor] = ser
		}

		key := instantOf(r.Time)
		if existing, seen := ser.index[key]; seen {
			if existing != r.Value {
				dups = append(dups, telemetry.DuplicateRecord{
					Sensor:   r.Sensor,
					Time:     r.Time,
					Kept:     existing,
					Rejected: r.Value,
				})
			}
			continue
		}

		if n := len(ser.points); n > 0 && r.Time.Before(ser.points[n-1].Time) {
			unsorted[r.Sensor] = ser
		}
		ser.index[key] = r.Value
		ser.points = append(ser.points, telemetry.Point{Time: r.Time, Value: r.Value})
		inserted++
	}

	for _, ser := range unsorted {
		slices.SortStableFunc(ser.points, func(a, b telemetry.Point) int {
			return a.Time.Compare(b.Time)
		})
	}

	s.duplicates = append(s.duplicates, dups...)
	s.points += inserted

	if s.metrics != nil {
		s.metrics.recordAppend(len(readings), inserted, len(dups), len(s.series), s.points)
	}

	return dups
}

// Series returns a copy of the series of sensor.
func (s *Store) Series(sensor string) ([]telemetry.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[sensor]
	if !ok {
		return nil, false
	}
	return slices.Clone(ser.points), true
}

// Window returns a copy of the points of sensor with since < time <= until.
func (s *Store) Window(sensor string, since, until time.Time) []telemetry.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[sensor]
	if !ok {
		return nil
	}
	lo := sort.Search(len(ser.points), func(i int) bool { return ser.points[i].Time.After(since) })
	hi := sort.Search(len(ser.points), func(i int) bool { return ser.points[i].Time.After(until) })
	if lo >= hi {
		return nil
	}
	return slices.Clone(ser.points[lo:hi])
}

// Latest returns the newest point of sensor.
func (s *Store) Latest(sensor string) (telemetry.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[sensor]
	if !ok || len(ser.points) == 0 {
		return telemetry.Point{}, false
	}
	return ser.points[len(ser.points)-1], true
}

// Count returns the number of points of sensor.
func (s *Store) Count(sensor string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ser, ok := s.series[sensor]; ok {
		return len(ser.points)
	}
	return 0
}

// Sensors returns the names of all series in lexical order.
func (s *Store) Sensors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Duplicates returns the full conflict history.
func (s *Store) Duplicates() []telemetry.DuplicateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.duplicates)
}

// Len returns the number of stored points across all series.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.points
}

// Clear drops every series and the conflict history.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = make(map[string]*series)
	s.duplicates = nil
	s.points = 0

	if s.metrics != nil {
		s.metrics.series.Set(0)
		s.metrics.points.Set(0)
	}
}
