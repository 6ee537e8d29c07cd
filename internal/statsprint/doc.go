// Package statsprint renders a stats.Snapshot as text, JSON, or CSV for the
// reflector CLI, keeping the legacy flat counters alongside their
// structured replacements (spec §9 Open Questions).
package statsprint
