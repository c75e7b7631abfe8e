package scenario

import (
	"fmt"

	"github.com/spf13/viper"
)

type file struct {
	Scenarios []*Scenario `mapstructure:"scenarios"`
}

// LoadFile reads scenario definitions from a YAML file and validates each one.
func LoadFile(path string) ([]*Scenario, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}

	var f file
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode scenarios: %w", err)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario file %q: no scenarios", path)
	}
	ids := make(map[string]struct{}, len(f.Scenarios))
	for _, s := range f.Scenarios {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ids[s.ID]; dup {
			return nil, fmt.Errorf("scenario file %q: duplicate scenario id %q", path, s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	return f.Scenarios, nil
}
