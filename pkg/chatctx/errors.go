package chatctx

import "errors"

// Protocol-violation sentinels: programming errors returned from the
// offending call rather than thrown, so mutation-heavy callers can choose
// how to surface them.
var (
	ErrDuplicateID  = errors.New("chatctx: duplicate item id")
	ErrUnknownID    = errors.New("chatctx: no item with that id")
	ErrNotPrevious  = errors.New("chatctx: previousId does not reference an existing item")
)
