package chat

import "errors"

// ErrNoActiveConversation is returned when an operation needs an open
// conversation and none is selected.
var ErrNoActiveConversation = errors.New("no active conversation")
