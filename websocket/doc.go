// Package websocket implements the WebSocket protocol defined in RFC 6455 as
// an event-driven engine.
//
// This package provides:
//   - A frame codec (DecodeFrame, Encoder) with role-dependent masking
//   - An Assembler that joins fragmented messages
//   - An Engine that owns one connection: dispatch, ping/pong keepalive and
//     the closing handshake
//   - Client-side dialing via Dialer and server-side upgrading via Upgrader
//
// Client Example:
//
//	engine, _, err := websocket.DefaultDialer.Dial("ws://localhost:8080/ws", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine.Start(websocket.Handlers{
//	    OnText: func(text string) { fmt.Println(text) },
//	})
//	engine.SetPingInterval(30 * time.Second)
//
//	if err := engine.SendText("hello"); err != nil {
//	    log.Fatal(err)
//	}
//
// Concurrency:
//
// Each started engine runs one read goroutine and one write goroutine.
// Frames are decoded and dispatched strictly in arrival order, and handlers
// are called on the read goroutine. The send methods are safe for concurrent
// use; they queue frames for the writer and never block on the network.
//
// Closing:
//
// Close sends a close frame and waits for the peer's reply before closing
// the transport, bounded by EngineConfig.CloseTimeout. Close codes 1005 and
// 1006 are reserved for local use and are sent as 1000. Protocol violations
// and a missed keepalive pong fail the connection: a close frame is sent and
// the transport is closed without waiting.
//
// Origin Checking:
//
// Web browsers allow any site to open a WebSocket connection to any other site.
// The server must validate the Origin header to prevent attacks. The Upgrader
// calls the CheckOrigin function to validate the request origin. If CheckOrigin
// is nil, the Upgrader uses a safe default that rejects cross-origin requests.
package websocket
