// Package wsclient keeps a WebSocket connection alive across network changes,
// application backgrounding and server failures.
//
// A Client moves through three states:
//
//	Disconnected(reason) -> Connecting -> Connected -> Disconnected(reason)
//
// Start records the intent to be connected. From then on the client
// reconnects once for every triggering event: the network becoming reachable,
// the connection type changing, the application returning to the foreground
// after an expired background session, or the server closing the connection.
// A failed handshake leaves the client in Disconnected(TransportError) until
// the next trigger. Stop moves the client to Disconnected(NotStarted) and
// suppresses reconnects.
//
// Example:
//
//	cfg, err := wsclient.LoadConfig("client.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := wsclient.New(cfg,
//	    wsclient.WithReachability(monitor),
//	    wsclient.WithDelegate(wsclient.DelegateFuncs{
//	        OnText: func(text string) { fmt.Println(text) },
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	_ = client.Start()
//
// Sending fails synchronously unless the client is Connected. The error
// matches ErrStillConnecting while a connection attempt is in flight and
// ErrNotConnected otherwise; IsTemporary tells callers whether waiting is
// enough or an explicit reconnect is needed.
package wsclient
