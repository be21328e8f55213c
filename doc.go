// Package streaming is the manufacturing event streaming subsystem: it
// surfaces near-real-time plant events (metrics, alerts, quality readings,
// equipment state changes) to many concurrent consumers over SSE and
// WebSocket, and accepts mutating commands and point-in-time queries back
// from WebSocket clients.
//
// # Architecture
//
//	┌─────────┐   poll    ┌────────┐   publish   ┌─────────┐
//	│  Store  ├──────────►│ Poller ├────────────►│ Broker  │
//	│ (pg/mem)│           │  Set   │             │ (pubsub)│
//	└────┬────┘           └────────┘             └────┬────┘
//	     │                                           fan-out
//	     │ commands/queries                     ┌──────┴──────┐
//	     │                                      ▼             ▼
//	┌────┴───────┐  command/query  ┌─────────────┐     ┌───────────┐
//	│ Dispatcher │◄────────────────┤  WebSocket  │     │    SSE    │
//	└────────────┘                 │   server    │     │  handler  │
//	                               └─────────────┘     └───────────┘
//
// Telemetry flows one way: store rows are polled per category on fixed
// intervals, mapped to events, published through the in-memory broker's
// bounded ring buffer, and fanned out to filtered subscriptions held by
// the transports. Commands and queries flow back from WebSocket clients
// through the dispatcher to the store; successful commands broadcast a
// notification to every connected client regardless of filters.
//
// # Packages
//
//   - errors: classified error handling (transient, invalid, fatal)
//   - component: lifecycle and health contracts shared by long-running parts
//   - config: JSON configuration with environment overrides
//   - metric: Prometheus metric registry and core collectors
//   - event: stream event values and subscription filters
//   - stream: pub/sub broker with bounded replay buffer
//   - store: persistent store collaborator (PostgreSQL and in-memory)
//   - poller: per-category store pollers with watermarks
//   - dispatch: name-routed command and query handlers
//   - transport/sse: Server-Sent Events adapter
//   - transport/websocket: bidirectional WebSocket adapter with heartbeat
//   - cmd/streamd: service entrypoint
package streaming
