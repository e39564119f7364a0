package logic

import "errors"

// ErrNilQueue is returned when a submission needs review but no queue is wired.
var ErrNilQueue = errors.New("moderation queue is nil")
