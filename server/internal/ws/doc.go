// Package ws pushes cache status to WebSocket clients.
//
// Hub sends the current directory.Status to every connected client on
// connect, on each tick of its interval, and whenever Notify is called. The
// server calls Notify from a refresh observer so dashboards see a finished
// refresh without waiting for the next tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "status",
//	  "data":  { /* same schema as GET /health */ }
//	}
//
// The endpoint is mounted at /ws/status by the api package.
package ws
