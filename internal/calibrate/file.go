package calibrate

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// SaveStats writes calibration statistics as indented JSON so range files
// can be inspected and hand edited.
func SaveStats(path string, s *Stats) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

// LoadStats reads a statistics file produced by SaveStats.
func LoadStats(path string) (*Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	if s.PerTensor == nil {
		s.PerTensor = make(map[string]TensorStats)
	}
	return &s, nil
}
