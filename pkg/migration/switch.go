package migration

import (
	"github.com/jihwankim/tiermemctl/pkg/candidate"
	"github.com/jihwankim/tiermemctl/pkg/topology"
)

// Switch runs one SWITCH command's do_switch loop over a single
// already-fetched candidate batch. It does not reissue FIND: it re-walks
// the unmigrated tail of each section against currently free tier capacity
// once per outer round, migrating only the newly-assignable increment each
// time, until neither direction can make further progress. This mirrors
// the source's dram_processed/nvram_processed offsets advancing across
// `while` iterations as node free space changes, rather than assigning the
// whole batch once and dropping whatever doesn't fit in the first pass.
func (e *Engine) Switch(batch candidate.Batch) (int, error) {
	toNVRAM := batch.Section(1) // DRAM -> NVRAM
	toDRAM := batch.Section(0)  // NVRAM -> DRAM

	nvramProcessed := 0
	dramProcessed := 0
	nvramFree := true
	dramFree := true

	total := 0

	for (dramProcessed < len(toDRAM) || nvramProcessed < len(toNVRAM)) && (dramFree || nvramFree) {
		advanced, migrated, err := e.advanceSwitchSection(toNVRAM, nvramProcessed, topology.NVRAM)
		if err != nil {
			return total, err
		}
		nvramFree = advanced > nvramProcessed
		nvramProcessed = advanced
		total += migrated

		advanced, migrated, err = e.advanceSwitchSection(toDRAM, dramProcessed, topology.DRAM)
		if err != nil {
			return total, err
		}
		dramFree = advanced > dramProcessed
		dramProcessed = advanced
		total += migrated
	}

	return total, nil
}

// advanceSwitchSection assigns as much of candidates[processed:] as
// currently free tier capacity allows, migrates just that increment, and
// returns the new processed offset plus the number of pages migrated this
// round.
func (e *Engine) advanceSwitchSection(candidates []candidate.Candidate, processed int, dest topology.Tier) (int, int, error) {
	remaining := candidates[processed:]
	if len(remaining) == 0 {
		return processed, 0, nil
	}

	assignments, dropped, err := e.assign(remaining, dest)
	if err != nil {
		return processed, 0, err
	}

	migrated := e.migrateAssignments(assignments, dest)
	return processed + (len(remaining) - dropped), migrated, nil
}
