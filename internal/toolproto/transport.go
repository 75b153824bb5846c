package toolproto

import "context"

// Receiver consumes what a transport reads from its server.
type Receiver interface {
	// HandleMessage is called with each complete inbound message.
	HandleMessage(data []byte)
	// HandleTransportError reports that the connection is no longer usable.
	HandleTransportError(err error)
}

// Transport moves envelopes to and from one tool server. Connect may be
// called again after Disconnect.
type Transport interface {
	Connect(ctx context.Context, recv Receiver) error
	Send(ctx context.Context, env *Envelope) error
	Disconnect() error
}
