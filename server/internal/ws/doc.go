// Package ws implements the WebSocket threat board for tewa-server.
//
// Hub manages a set of connected clients and broadcasts the latest ranking of
// every scenario to all of them on a configurable interval (default 5s) and
// right after each compute run, as an engine.Observer.
//
// New(store, interval, topN, metrics) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker; it blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// board immediately on connect, then streams updates.
//
// Message format sent to clients:
//
//	{
//	  "event": "board" | "run",
//	  "data":  { /* same schema as GET /api/v1/board */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The server mounts the hub at /ws/board.
package ws
