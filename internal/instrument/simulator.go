package instrument

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/timeutil"
	"github.com/banshee-data/evidense/internal/wavelength"
)

// Simulator is a deterministic in-process Instrument. Measurement scans
// alternate between air and sample after each baseline; the sample scan
// attenuates the air scan by the buffer absorbance plus the next entry of
// Samples (zero once Samples is exhausted, i.e. a blank).
type Simulator struct {
	Serial   string
	Firmware string

	// Lamp is the sample-detector reading through the empty guide.
	Lamp wavelength.Vector
	// Reference is the reference-detector reading, the same for every scan.
	Reference wavelength.Vector
	// Air is the absorbance of an empty cuvette.
	Air wavelength.Vector
	// Buffer is the absorbance of the buffer relative to air.
	Buffer wavelength.Vector
	// Samples are the absorbances of successive samples above the buffer.
	Samples []wavelength.Vector

	// Clock and Delay simulate the acquisition time of a scan.
	Clock timeutil.Clock
	Delay time.Duration

	mu           sync.Mutex
	nextIsSample bool
	sampleIndex  int
	cuvetteEmpty bool
	pendingLogs  []string
	failNext     error
	calls        map[string]int
}

// NewSimulator returns a simulator with plausible detector levels.
func NewSimulator(serial string) *Simulator {
	return &Simulator{
		Serial:       serial,
		Firmware:     "sim-1.0",
		Lamp:         wavelength.New(41200, 52800, 48100, 39500),
		Reference:    wavelength.New(30100, 35400, 33800, 28900),
		Air:          wavelength.Broadcast(0.045),
		Buffer:       wavelength.New(0.031, 0.012, 0.011, 0.008),
		Clock:        timeutil.RealClock{},
		cuvetteEmpty: true,
		calls:        make(map[string]int),
	}
}

// FailNext makes the next operation fail with err wrapped in ErrCommunication.
func (s *Simulator) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// QueueLog adds a diagnostic line for DrainLogLines.
func (s *Simulator) QueueLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingLogs = append(s.pendingLogs, line)
}

// SetCuvetteEmpty sets what IsCuvetteHolderEmpty reports.
func (s *Simulator) SetCuvetteEmpty(empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cuvetteEmpty = empty
}

// Calls returns how many times op was invoked.
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// begin counts the call and consumes an injected failure. Callers hold s.mu.
func (s *Simulator) begin(ctx context.Context, op string) error {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCommunication, op, err)
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return fmt.Errorf("%w: %s: %v", ErrCommunication, op, err)
	}
	return nil
}

func (s *Simulator) acquire(absorbance wavelength.Vector) scan.RawScan {
	if s.Delay > 0 && s.Clock != nil {
		s.Clock.Sleep(s.Delay)
	}
	lamp, ref, a := s.Lamp.Array(), s.Reference.Array(), absorbance.Array()
	var v [8]float64
	for i := range lamp {
		v[2*i] = math.Round(lamp[i] / math.Pow(10, a[i]))
		v[2*i+1] = math.Round(ref[i])
	}
	return scan.FromValues(v)
}

func (s *Simulator) BaselineScan(ctx context.Context) (scan.RawScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "baseline"); err != nil {
		return scan.RawScan{}, err
	}
	s.nextIsSample = false
	return s.acquire(wavelength.Broadcast(0)), nil
}

func (s *Simulator) MeasurementScan(ctx context.Context) (scan.RawScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "measure"); err != nil {
		return scan.RawScan{}, err
	}
	if !s.nextIsSample {
		s.nextIsSample = true
		return s.acquire(s.Air), nil
	}
	s.nextIsSample = false
	a := s.Air.Add(s.Buffer)
	if s.sampleIndex < len(s.Samples) {
		a = a.Add(s.Samples[s.sampleIndex])
	}
	s.sampleIndex++
	return s.acquire(a), nil
}

func (s *Simulator) IsCuvetteHolderEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "cuvette"); err != nil {
		return false, err
	}
	return s.cuvetteEmpty, nil
}

func (s *Simulator) SerialNumber(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "serial"); err != nil {
		return "", err
	}
	return s.Serial, nil
}

func (s *Simulator) FirmwareVersion(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "firmware"); err != nil {
		return "", err
	}
	return s.Firmware, nil
}

func (s *Simulator) DrainLogLines(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "logs"); err != nil {
		return nil, err
	}
	lines := s.pendingLogs
	s.pendingLogs = nil
	return lines, nil
}
