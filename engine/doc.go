// Package engine runs one monitoring session: it turns feed messages and
// historical files into per-sensor series and raises events for anomalies.
//
// # Overview
//
// A Session owns the time-series store, the periodicity monitor, the steady
// state detector, the alarm tracker and the TVAC ambient reference. Inputs
// arrive from two producers, the live feed Runner and the file Loader, and
// are merged by a single writer goroutine:
//
//	feed.Runner ──HandleMessage──┐
//	                             ├──> queue ──> writer ──> Store.Append
//	file.Loader ──LoadFile───────┘                  │
//	                                                ├──> alarms (system state)
//	                                                ├──> duplicates
//	                                                └──> steady state per sensor
//
// Every step publishes events on the events.Bus. Readers (the HTTP gateway)
// take snapshots and never block the writer.
//
// # Message Handling
//
// HandleMessage counts every message as a beacon arrival for the
// periodicity monitor, which may raise a beacon_gap event. The routing key
// selects what happens next:
//
//   - clock key (CDH): the beacon time becomes the reference for THM
//     beacons that carry no timestamp of their own
//   - telemetry key (THM): raw frames go to the frame decoder, JSON and CBOR
//     beacons to the normalizer; the readings are queued for the writer
//   - anything else is ignored
//
// Messages that cannot be parsed or decoded raise a feed_error event and
// are dropped. The feed keeps running.
//
// # Overdue Ticker
//
// While the feed runs, a ticker re-derives the periodicity status every
// second. It publishes a feed_status event on every tick and an overdue
// event whenever the overdue flag changes.
//
// # Lifecycle
//
// Session implements component.LifecycleComponent:
//
//	session, err := engine.New(engine.DefaultConfig(), engine.Deps{
//		Logger:          logger,
//		MetricsRegistry: registry,
//		Layout:          layout,
//		Bus:             bus,
//		Source:          source,
//	})
//	if err := session.Initialize(); err != nil { ... }
//	if err := session.Start(ctx); err != nil { ... }
//	defer session.Stop(10 * time.Second)
//
//	err = session.StartFeed(ctx)
//	summary, err := session.LoadFile(ctx, "thm_2017-07-14.bin.zst")
//
// Clear runs on the writer like any batch, so data queued before the call
// is merged and then discarded.
package engine
