package hardware

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Reading is one sample of the node's sensors.
type Reading struct {
	// Temperature in whole degrees Celsius.
	Temperature int
	// Light is the raw ambient light sensor count.
	Light int
}

// Sensors samples the temperature and light sensors.
type Sensors interface {
	Read() (Reading, error)
}

// SysfsSensors reads integer values from sysfs-style files.
//
// The temperature file holds millidegrees Celsius, as thermal zones and
// most hwmon drivers report it. The light file holds a raw count.
type SysfsSensors struct {
	TemperaturePath string
	LightPath       string
}

// Read samples both files.
func (s SysfsSensors) Read() (Reading, error) {
	milli, err := readIntFile(s.TemperaturePath)
	if err != nil {
		return Reading{}, fmt.Errorf("reading temperature: %w", err)
	}
	light, err := readIntFile(s.LightPath)
	if err != nil {
		return Reading{}, fmt.Errorf("reading light: %w", err)
	}
	return Reading{Temperature: milli / 1000, Light: light}, nil
}

func readIntFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return n, nil
}

// SimSensors produces a slow random walk around room conditions.
type SimSensors struct {
	mu    sync.Mutex
	temp  int
	light int
	rng   *rand.Rand
}

// NewSimSensors seeds a simulated sensor pair.
func NewSimSensors(seed uint64) *SimSensors {
	return &SimSensors{
		temp:  22,
		light: 400,
		rng:   rand.New(rand.NewPCG(seed, seed^0x5eed)), //nolint:gosec // Simulation only
	}
}

// Read returns the next simulated sample.
func (s *SimSensors) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = clamp(s.temp+s.rng.IntN(3)-1, 15, 35)
	s.light = clamp(s.light+s.rng.IntN(41)-20, 0, 4095)
	return Reading{Temperature: s.temp, Light: s.light}, nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
