package dispatch

import "strconv"

// Outcome is what happened to one envelope.
type Outcome int

const (
	// OutcomeNoPage: the page id is not registered. Nothing is sent.
	OutcomeNoPage Outcome = iota
	// OutcomePoll: a page_update request was answered with the tree.
	OutcomePoll
	// OutcomeRebuild: a handler asked for an update and the tree was sent.
	OutcomeRebuild
	// OutcomeNoUpdate: a handler ran and returned ui.NoUpdate.
	OutcomeNoUpdate
	// OutcomeNoHandler: the target has no handler for the event type.
	OutcomeNoHandler
	// OutcomeNoTarget: the component id is not on the page.
	OutcomeNoTarget
	// OutcomeHandlerFailed: a handler returned an error or panicked.
	OutcomeHandlerFailed
	// OutcomeDisconnect: the page's disconnect hook ran.
	OutcomeDisconnect
	// OutcomeConnect: a channel was bound to the page.
	OutcomeConnect
)

var outcomeNames = [...]string{
	OutcomeNoPage:        "no_page",
	OutcomePoll:          "poll",
	OutcomeRebuild:       "rebuild",
	OutcomeNoUpdate:      "no_update",
	OutcomeNoHandler:     "no_handler",
	OutcomeNoTarget:      "no_target",
	OutcomeHandlerFailed: "handler_failed",
	OutcomeDisconnect:    "disconnect",
	OutcomeConnect:       "connect",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "Outcome(" + strconv.Itoa(int(o)) + ")"
}

// Sent reports whether the outcome pushed a message to at least one client.
func (o Outcome) Sent() bool {
	return o == OutcomePoll || o == OutcomeRebuild
}
