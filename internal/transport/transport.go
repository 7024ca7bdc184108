// Package transport defines the persistent-connection seam between the
// dispatcher and the network.
package transport

// Transport is a persistent bidirectional connection to the chat server.
// Each received string is exactly one wire envelope.
type Transport interface {
	// Send writes one outbound payload. A send failure does not close the
	// connection; the caller decides what to do with it.
	Send(text string) error

	// Messages returns the inbound stream. The channel is closed when the
	// connection ends, from either side.
	Messages() <-chan string

	// Close shuts the connection down and ends the inbound stream.
	Close() error
}
