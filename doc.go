// Package thmmonitor is the ground-side monitor for the thermal housekeeping
// (THM) subsystem of a small satellite. It decodes THM beacons received live
// from the ground station or read back from historical logs, merges the
// readings into one time series per sensor and reports beacon periodicity,
// per-sensor steady state and system state alarms.
//
// # Architecture
//
//	┌──────────────────────────────────────────┐
//	│  input/feed   NATS, MQTT, Kafka, UDP,    │  live beacons, reconnecting
//	│               simulation                 │  Runner
//	│  input/file   raw, zstd, lz4 THM logs    │  historical imports
//	└──────────────────────────────────────────┘
//	              ↓ beacon bodies, frames
//	┌──────────────────────────────────────────┐
//	│  processor/beacon   routing, clock, JSON │
//	│                     and CBOR bodies      │
//	│  processor/decoder  bit-packed frames    │
//	│  processor/conversion  raw to units      │
//	└──────────────────────────────────────────┘
//	              ↓ readings
//	┌──────────────────────────────────────────┐
//	│  engine.Session                          │  one writer goroutine
//	│    storage/timeseries  merged series     │
//	│    processor/periodicity  beacon gaps    │
//	│    processor/steadystate  per sensor     │
//	└──────────────────────────────────────────┘
//	              ↓ events
//	┌──────────────────────────────────────────┐
//	│  output/events bus → log, websocket,     │
//	│  NATS, webhook, archive                  │
//	│  gateway/http  JSON API, /health,        │
//	│                /metrics, /ws             │
//	└──────────────────────────────────────────┘
//
// # Operating modes
//
//   - simulation: synthesized beacons, no ground station needed
//   - tvac: thermal vacuum campaign; accepts a chamber ambient reference
//   - em: engineering model, subjects under thm.em
//   - fm: flight model, subjects under thm.fm
//
// # Running
//
//	thmmonitor -c configs/base.jsonc --mode fm
//	thmmonitor --mode tvac --ambient chamber.txt -l day1.bin.zst --no-feed
//
// See cmd/thmmonitor for flags and package config for the configuration
// file format.
package thmmonitor
