package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Target describes the resource limits of the device being compiled for.
type Target struct {
	Name                   string `toml:"name"`
	Cols                   int    `toml:"cols"`
	Rows                   int    `toml:"rows"`
	LocksPerTile           int    `toml:"locks_per_tile"`
	ChannelsPerDirection   int    `toml:"channels_per_direction"`
	MaxDescriptorsPerChain int    `toml:"max_descriptors_per_chain"`
}

// Default returns the limits of a first-generation AI Engine array.
func Default() Target {
	return Target{
		Name:                   "aie1",
		Cols:                   50,
		Rows:                   9,
		LocksPerTile:           16,
		ChannelsPerDirection:   2,
		MaxDescriptorsPerChain: 14,
	}
}

// Load reads a target description from a TOML file. Keys missing from the
// file keep their default values.
func Load(path string) (Target, error) {
	target := Default()
	md, err := toml.DecodeFile(path, &target)
	if err != nil {
		return Target{}, errors.Wrapf(err, "decode target %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Target{}, errors.Errorf("target %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := target.Validate(); err != nil {
		return Target{}, errors.Wrapf(err, "target %s", path)
	}
	return target, nil
}

// Parse decodes a target description from TOML text.
func Parse(text string) (Target, error) {
	target := Default()
	md, err := toml.Decode(text, &target)
	if err != nil {
		return Target{}, errors.Wrap(err, "decode target")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Target{}, errors.Errorf("unknown target key %s", undecoded[0])
	}
	if err := target.Validate(); err != nil {
		return Target{}, err
	}
	return target, nil
}

// Validate checks that every limit is usable.
func (t Target) Validate() error {
	switch {
	case t.Cols <= 0 || t.Rows <= 0:
		return errors.Errorf("grid must be at least 1x1, got %dx%d", t.Cols, t.Rows)
	case t.LocksPerTile <= 0:
		return errors.Errorf("locks_per_tile must be positive, got %d", t.LocksPerTile)
	case t.ChannelsPerDirection <= 0:
		return errors.Errorf("channels_per_direction must be positive, got %d", t.ChannelsPerDirection)
	case t.MaxDescriptorsPerChain <= 0:
		return errors.Errorf("max_descriptors_per_chain must be positive, got %d", t.MaxDescriptorsPerChain)
	}
	return nil
}

// InGrid reports whether (col, row) lies on the target grid.
func (t Target) InGrid(col, row int) bool {
	return col >= 0 && row >= 0 && col < t.Cols && row < t.Rows
}
