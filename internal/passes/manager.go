// Package passes sequences the transformations applied to a design.
package passes

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"fifolower/internal/ir"
)

// Pass transforms or checks a design in place.
type Pass interface {
	Name() string
	Run(design *ir.Design) error
}

// Manager runs passes in the order they were added and stops at the first
// failure.
type Manager struct {
	passes []Pass
}

// NewManager returns an empty pipeline.
func NewManager() *Manager {
	return &Manager{}
}

// Add appends p to the pipeline.
func (m *Manager) Add(p Pass) {
	m.passes = append(m.passes, p)
}

// Names lists the passes in execution order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.passes))
	for _, p := range m.passes {
		names = append(names, p.Name())
	}
	return names
}

// Run executes every pass over design.
func (m *Manager) Run(design *ir.Design) error {
	for _, p := range m.passes {
		klog.V(1).Infof("running pass %s", p.Name())
		if err := p.Run(design); err != nil {
			return errors.Wrapf(err, "pass %s", p.Name())
		}
	}
	return nil
}
