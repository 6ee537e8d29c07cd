// Package classify decides whether a parsed frame is a reflectable test
// packet under a configured signature/port/MAC/OUI filter (spec §4.2).
//
// Classify must not allocate and must not panic: it runs on the dataplane
// hot path once per received frame.
package classify
