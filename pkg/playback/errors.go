package playback

import "errors"

// ErrSinkClosed is returned by CaptureFrame once the sink has been closed.
var ErrSinkClosed = errors.New("playback: sink closed")
