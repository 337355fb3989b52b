// Package config loads the monitor configuration.
//
// A Config aggregates the settings of every part of the monitor: the live
// feed, the file loader, the session engine, the decode log, the WebSocket
// broadcaster, the HTTP gateway and the event publisher. Each section is
// the owning package's own Config type and keeps its own Validate.
//
// # Loading
//
// Loader starts from Default, deep-merges each file layer over it, applies
// THMMONITOR_* environment overrides, derives the mode settings and
// validates the result:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.jsonc")
//	loader.AddLayer("configs/tvac.jsonc") // Overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Files may carry // and /* */ comments and trailing commas. Duration
// fields accept strings such as "5s", "2m" or "1d" as well as nanoseconds.
// A layer only overrides the keys it names:
//
//	{
//	  // TVAC campaign, chamber log from the test rig
//	  "mode": "tvac",
//	  "ambient": "/data/tvac/chamber.txt",
//	  "feed": {"transport": "mqtt", "mqtt": {"broker": "tcp://rig:1883"}},
//	  "engine": {"steady_window": "30m"},
//	}
//
// # Modes
//
// simulation selects the simulation transport. tvac allows an ambient
// reference file. em and fm select the thm.em and thm.fm subject prefixes.
//
// # Thread-Safe Access
//
// SafeConfig hands out deep copies and validates replacements:
//
//	safe := config.NewSafeConfig(cfg)
//	current := safe.Get()
package config
