// Package unpack reads a raw MDH stream into the k-space stores.
package unpack

import (
	"mdhrecon/internal/logging"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/dimension"
)

// Mapper resolves the disk indices of a record to store indices.
type Mapper struct {
	Repetitions dimension.List
	Echoes      dimension.List
	Slices      dimension.List
	Targets     models.Targets
	Log         logging.Logger
}

// NewMapper returns a mapper over the lists of a resolved shape.
func NewMapper(s *dimension.Shape, log logging.Logger) *Mapper {
	if log == nil {
		log = logging.Discard()
	}
	return &Mapper{
		Repetitions: s.Repetitions,
		Echoes:      s.Echoes,
		Slices:      s.Slices,
		Targets:     s.Targets,
		Log:         log,
	}
}

// MapToMemory maps disk (channel, repetition, echo, slice) to store
// (repetition, echo, slice) indices. Records of another channel are rejected
// silently. A targeted repetition or echo must match exactly and maps to 0;
// otherwise its position in the configured list is used. Slices are always
// looked up by list position. A lookup miss rejects the record with a warning.
func (m *Mapper) MapToMemory(channel, repetition, echo, slice int) (repIdx, echoIdx, sliceIdx int, ok bool) {
	if m.Targets.Channel != models.Any && channel != m.Targets.Channel {
		return 0, 0, 0, false
	}

	repIdx, ok = m.resolve(m.Targets.Repetition, repetition, m.Repetitions)
	if !ok {
		if m.Targets.Repetition == models.Any {
			m.Log.Warningf("repetition %d not in repetition list %v (echo %d, channel %d)",
				repetition, m.Repetitions, echo, channel)
		}
		return 0, 0, 0, false
	}

	echoIdx, ok = m.resolve(m.Targets.Echo, echo, m.Echoes)
	if !ok {
		if m.Targets.Echo == models.Any {
			m.Log.Warningf("echo %d not in echo list %v (repetition %d, channel %d)",
				echo, m.Echoes, repetition, channel)
		}
		return 0, 0, 0, false
	}

	sliceIdx, ok = m.Slices.IndexOf(slice)
	if !ok {
		m.Log.Warningf("slice %d not in slice list %v (repetition %d, echo %d, channel %d)",
			slice, m.Slices, repetition, echo, channel)
		return 0, 0, 0, false
	}
	return repIdx, echoIdx, sliceIdx, true
}

func (m *Mapper) resolve(target, v int, l dimension.List) (int, bool) {
	if target != models.Any {
		return 0, v == target
	}
	return l.IndexOf(v)
}
