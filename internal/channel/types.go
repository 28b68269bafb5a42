package channel

import "strings"

// Order is the delivery ordering negotiated for a channel.
type Order string

const (
	OrderUnordered Order = "ORDER_UNORDERED"
	OrderOrdered   Order = "ORDER_ORDERED"
)

// State is the handshake position of one channel end.
type State string

const (
	StateProposed State = "proposed"
	StateOpen     State = "open"
	StateRejected State = "rejected"
)

// Endpoint is one (port, channel) end.
type Endpoint struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id"`
}

// Channel is the handshake view of a channel as the host presents it.
type Channel struct {
	Endpoint             Endpoint `json:"endpoint"`
	CounterpartyEndpoint Endpoint `json:"counterparty_endpoint"`
	Order                Order    `json:"order"`
	Version              string   `json:"version"`
	ConnectionID         string   `json:"connection_id"`
}

// Info is the registry record written on connect. It is never changed
// or removed afterwards.
type Info struct {
	ChannelID            string   `json:"channel_id"`
	CounterpartyEndpoint Endpoint `json:"counterparty_endpoint"`
	ConnectionID         string   `json:"connection_id"`
}

// InfoFrom projects the persisted fields of ch.
func InfoFrom(ch Channel) Info {
	return Info{
		ChannelID:            strings.TrimSpace(ch.Endpoint.ChannelID),
		CounterpartyEndpoint: ch.CounterpartyEndpoint,
		ConnectionID:         ch.ConnectionID,
	}
}
