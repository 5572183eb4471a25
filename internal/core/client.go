package core

import "github.com/okcorral/roombroker/internal/proto"

// Client is one live connection as seen by the core layer.
// Meta and membership are only touched from the hub loop.
type Client struct {
	ID         string
	RemoteAddr string
	Meta       Meta
	Outbound   chan proto.Outbound

	closed bool
}

// NewClient constructs a client with an initialized outbound queue.
func NewClient(id, remoteAddr string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		ID:         id,
		RemoteAddr: remoteAddr,
		Meta:       Meta{"id": id},
		Outbound:   make(chan proto.Outbound, buffer),
	}
}
