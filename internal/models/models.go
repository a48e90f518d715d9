package models

// Any marks an unset target (channel, echo or repetition).
const Any = -1

// Axis names one dimension of the 5-D k-space store.
type Axis int

const (
	ReadOut Axis = iota
	PhaseEncode
	Slice
	Repetition
	Echo
)

// String returns the axis name used in log messages.
func (a Axis) String() string {
	switch a {
	case ReadOut:
		return "readout"
	case PhaseEncode:
		return "phase-encode"
	case Slice:
		return "slice"
	case Repetition:
		return "repetition"
	case Echo:
		return "echo"
	}
	return "unknown"
}

// Dims holds the extents of the dense k-space store
type Dims struct {
	// ReadOut is the number of samples per line (after any padding)
	ReadOut int

	// PhaseEncode is the number of phase-encode lines
	PhaseEncode int

	// Slices is the slice (or partition) depth
	Slices int

	// Repetitions is the number of stored repetitions
	Repetitions int

	// Echoes is the number of stored echoes
	Echoes int
}

// Len returns the number of complex samples in a store with these extents.
func (d Dims) Len() int {
	return d.ReadOut * d.PhaseEncode * d.Slices * d.Repetitions * d.Echoes
}

// Valid reports whether every extent is positive.
func (d Dims) Valid() bool {
	return d.ReadOut > 0 && d.PhaseEncode > 0 && d.Slices > 0 && d.Repetitions > 0 && d.Echoes > 0
}

// ZeroPad records the offsets of the zero padding injected on each spatial axis.
type ZeroPad struct {
	Row   int // readout
	Col   int // phase encode
	Slice int
}

// Targets restricts unpacking to one channel, echo and/or repetition.
// A field set to Any accepts every value.
type Targets struct {
	Channel    int
	Echo       int
	Repetition int
}

// AllTargets returns targets that accept every record.
func AllTargets() Targets {
	return Targets{Channel: Any, Echo: Any, Repetition: Any}
}

// Coord is a record position in the 5-D store.
type Coord struct {
	Line       int
	Slice      int
	Repetition int
	Echo       int
}
