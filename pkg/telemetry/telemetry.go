// Package telemetry reads the fixed-layout bandwidth telemetry file the
// external sampling utility writes and exposes the freshest validated
// sample to the placement loop.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"
)

// fieldCount is the number of float32 fields in one record.
const fieldCount = 6

// Sample is one bandwidth telemetry record: six non-negative rates plus the
// file's modification time at the moment it was read.
type Sample struct {
	DRAMReads  float32
	DRAMWrites float32
	PMMReads   float32
	PMMWrites  float32
	PMMAppBW   float32
	PMMMemBW   float32
	MTime      time.Time
}

// Bounds are the sanity bounds a sample's fields must fall within to be
// considered valid: each DRAM field in [0, DRAMBWMax], each PMM field in
// [0, NVRAMBWMax].
type Bounds struct {
	DRAMBWMax  float32
	NVRAMBWMax float32
}

// ErrStaleOrInvalid is returned by ReadSample when the telemetry file's mtime has
// not advanced since the last consumed sample, or a field fails its sanity
// bound. Callers treat this as "skip this tick".
var ErrStaleOrInvalid = fmt.Errorf("telemetry: stale or invalid sample")

// Reader reads the telemetry file and tracks the last mtime it delivered,
// guaranteeing the placement loop never processes the same mtime twice.
type Reader struct {
	path              string
	bounds            Bounds
	lastConsumedMTime time.Time
}

// NewReader creates a telemetry reader for the given file path.
func NewReader(path string, bounds Bounds) *Reader {
	return &Reader{path: path, bounds: bounds}
}

// Mtime returns the telemetry file's current modification time without
// reading its contents.
func (r *Reader) Mtime() (time.Time, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// ReadSample opens the telemetry file, parses one fixed-layout record, and
// returns it only if its mtime strictly exceeds the previously consumed
// mtime and every field passes its sanity bound. On success, the reader
// remembers this mtime as consumed.
func (r *Reader) ReadSample() (Sample, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrStaleOrInvalid, err)
	}

	mtime := info.ModTime()
	if !mtime.After(r.lastConsumedMTime) {
		return Sample{}, ErrStaleOrInvalid
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrStaleOrInvalid, err)
	}
	if len(data) < fieldCount*4 {
		return Sample{}, fmt.Errorf("%w: short record (%d bytes)", ErrStaleOrInvalid, len(data))
	}

	var fields [fieldCount]float32
	for i := 0; i < fieldCount; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		fields[i] = math.Float32frombits(bits)
	}

	sample := Sample{
		DRAMReads:  fields[0],
		DRAMWrites: fields[1],
		PMMReads:   fields[2],
		PMMWrites:  fields[3],
		PMMAppBW:   fields[4],
		PMMMemBW:   fields[5],
		MTime:      mtime,
	}

	if err := r.checkBounds(sample); err != nil {
		return Sample{}, err
	}

	r.lastConsumedMTime = mtime
	return sample, nil
}

func (r *Reader) checkBounds(s Sample) error {
	for _, v := range []float32{s.DRAMReads, s.DRAMWrites} {
		if v < 0 || v > r.bounds.DRAMBWMax {
			return fmt.Errorf("%w: dram field out of range %v", ErrStaleOrInvalid, v)
		}
	}
	for _, v := range []float32{s.PMMReads, s.PMMWrites, s.PMMAppBW, s.PMMMemBW} {
		if v < 0 || v > r.bounds.NVRAMBWMax {
			return fmt.Errorf("%w: pmm field out of range %v", ErrStaleOrInvalid, v)
		}
	}
	return nil
}
