package speech

import "errors"

// ErrInterrupted is returned by WaitIfNotInterrupted when the handle has
// been (or becomes) interrupted before the awaited condition is met.
var ErrInterrupted = errors.New("speech: handle interrupted")

// ErrUnknownStep is returned by WaitForGeneration when stepIdx matches
// neither the handle itself nor any of its ancestors.
var ErrUnknownStep = errors.New("speech: unknown step index")
