// Package protocol defines the JSON messages exchanged between the browser
// client and the server.
//
// Client to server, over the channel or the polling endpoint:
//
//	{"type": "connect", "page_id": 3}
//	{"type": "event", "event_data": {"event_type": "click", "page_id": 3, "id": 17}}
//	{"type": "page_event", "event_data": {"event_type": "keydown", "page_id": 3, "key": "a"}}
//
// Server to client:
//
//	{"type": "websocket_update", "data": 12}
//	{"type": "page_update", "data": [...nodes...], "page_options": {...}}
//
// A polling request that produces nothing to send is answered with the JSON
// literal false.
package protocol
