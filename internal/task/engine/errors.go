package engine

import "errors"

var (
	ErrStopped     = errors.New("tick runner stopped")
	ErrStopping    = errors.New("tick runner stopping")
	ErrQueueFull   = errors.New("tick runner queue full")
	ErrOverlapSkip = errors.New("tick skipped: previous run still in flight")
)
