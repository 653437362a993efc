package protocol

import (
	"encoding/json"

	"github.com/vango-dev/pagewire/pkg/ui"
)

// Server message types.
const (
	MsgPageUpdate      = "page_update"
	MsgWebsocketUpdate = "websocket_update"
)

// NoReply is the polling endpoint's body when there is nothing to send.
var NoReply = []byte("false")

// Message is a server-to-client message.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`

	// PageOptions rides along with polling replies only; channel clients
	// received them with the initial render.
	PageOptions *PageOptions `json:"page_options,omitempty"`
}

// PageOptions is the subset of ui.Options a client re-applies on update.
type PageOptions struct {
	DisplayURL string `json:"display_url"`
	Title      string `json:"title"`
	Redirect   string `json:"redirect"`
	Open       string `json:"open"`
	Favicon    string `json:"favicon"`
}

// OptionsOf extracts the client-applicable options.
func OptionsOf(o ui.Options) *PageOptions {
	return &PageOptions{
		DisplayURL: o.DisplayURL,
		Title:      o.Title,
		Redirect:   o.Redirect,
		Open:       o.Open,
		Favicon:    o.Favicon,
	}
}

// PageUpdate builds a page_update message. opts may be nil.
func PageUpdate(nodes []ui.Node, opts *PageOptions) *Message {
	if nodes == nil {
		nodes = []ui.Node{}
	}
	return &Message{Type: MsgPageUpdate, Data: nodes, PageOptions: opts}
}

// WebsocketUpdate tells a freshly opened channel its connection id.
func WebsocketUpdate(connID int64) *Message {
	return &Message{Type: MsgWebsocketUpdate, Data: connID}
}

// Encode marshals m for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
