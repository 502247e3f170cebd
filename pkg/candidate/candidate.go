// Package candidate models the discovery result the kernel channel returns:
// a sentinel-terminated sequence of (virtual_address, pid) pairs, optionally
// split into the two sections a SWITCH-mode response carries.
package candidate

import "fmt"

// Candidate is one (virtual_address, owning_pid) pair.
type Candidate struct {
	Addr uint64
	Pid  int32
}

// IsRecord reports whether this is a real candidate (pid > 0).
func (c Candidate) IsRecord() bool {
	return c.Pid > 0
}

// IsSectionBoundary reports whether this is a zero-pid section boundary,
// used only in SWITCH mode.
func (c Candidate) IsSectionBoundary() bool {
	return c.Pid == 0
}

// Retval reports whether this is a negative-pid retval sentinel, and its
// value.
func (c Candidate) Retval() (int32, bool) {
	if c.Pid < 0 {
		return c.Pid, true
	}
	return 0, false
}

// Batch is the result of one discovery call. Single-mode batches have one
// section; SWITCH-mode batches have two (NVRAM->DRAM movers, then
// DRAM->NVRAM movers). Every batch ends with a retval sentinel.
type Batch struct {
	Sections [][]Candidate
	Retval   int32
}

// ErrMissingSentinel is returned when a raw candidate stream never
// terminates with a pid <= 0 sentinel before running out of data.
var ErrMissingSentinel = fmt.Errorf("candidate: stream ended without a sentinel")

// Parse consumes a raw sequence of candidates as the kernel channel
// delivers them. Every section (one for single-mode requests, two for
// SWITCH) is terminated by its own pid<=0 sentinel; expectSections tells
// the parser how many to expect before it is done. A negative sentinel
// encodes an error code and aborts the call immediately, regardless of how
// many sections were expected. maxRecords bounds how many real candidates
// are accepted per section so the parser never reads past the requested
// count even if the collaborator sent more before its sentinel.
func Parse(raw []Candidate, expectSections, maxRecords int) (Batch, error) {
	var batch Batch
	var section []Candidate
	sectionsSeen := 0

	for _, c := range raw {
		if c.Pid > 0 {
			if len(section) < maxRecords {
				section = append(section, c)
			}
			continue
		}

		batch.Sections = append(batch.Sections, section)
		batch.Retval = c.Pid
		section = nil
		sectionsSeen++

		if c.Pid < 0 {
			return batch, nil
		}
		if sectionsSeen == expectSections {
			return batch, nil
		}
	}

	return Batch{}, ErrMissingSentinel
}

// Flatten concatenates every section's candidates into one slice, in
// section order.
func (b Batch) Flatten() []Candidate {
	var out []Candidate
	for _, s := range b.Sections {
		out = append(out, s...)
	}
	return out
}

// Section returns the i'th section, or nil if the batch has fewer
// sections than i+1 (single-mode batches have exactly one section; SWITCH
// batches have two: index 0 is NVRAM->DRAM, index 1 is DRAM->NVRAM).
func (b Batch) Section(i int) []Candidate {
	if i < 0 || i >= len(b.Sections) {
		return nil
	}
	return b.Sections[i]
}
