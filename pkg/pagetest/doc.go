// Package pagetest provides testing helpers for pagewire pages.
//
// A Harness wires a Registry and a Dispatcher together without any HTTP or
// websocket plumbing. Recorders stand in for browser connections and keep
// every message pushed to them.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    h := pagetest.New(t)
//	    page, btn := counterPage()
//	    id := h.Register(page)
//	    conn := h.Connect(id)
//
//	    h.Click(conn, id, btn.ID())
//
//	    pagetest.ExpectText(t, conn.Last(), "Clicked 1 times")
//	}
//
// # Polling
//
// Poll-style requests use a transport.Poll as origin:
//
//	poll := h.PollUpdate(id)
//	nodes := pagetest.Nodes(t, poll.Reply())
package pagetest
