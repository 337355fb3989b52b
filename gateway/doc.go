// Package gateway holds the configuration shared by the monitor's HTTP
// surface.
//
// The gateway exposes one engine.Session to browsers and scripts:
//
//	┌─────────────────┐
//	│  Browser / curl │  GET /api/sensors/THM_Panel/series?average=10
//	└────────┬────────┘
//	         ↓
//	┌────────────────────────────────────────┐
//	│  gateway/http.Server                   │
//	│  recovery → CORS → gzip → request log  │
//	└────────┬───────────────────────────────┘
//	         ↓ snapshot reads / queued writes
//	┌────────────────────────────────────────┐
//	│  engine.Session                        │
//	└────────────────────────────────────────┘
//
// Read endpoints take snapshots and never block the session writer. Write
// endpoints (load, clear, feed control) go through the session's queue and
// return once the writer has applied them.
//
// # Configuration
//
//	{
//	  "addr": ":8080",
//	  "enable_cors": true,
//	  "cors_origins": ["http://localhost:3000"],
//	  "max_request_size": 65536,
//	  "compress": true
//	}
//
// CORS is off by default and requires explicit origins when enabled.
package gateway
