package device

import (
	"context"
	"sync"
)

// Handle owns a Device and lends it to one borrower at a time.
type Handle struct {
	dev  Device
	sem  chan struct{}
	once sync.Once
	err  error
}

func NewHandle(dev Device) *Handle {
	return &Handle{
		dev: dev,
		sem: make(chan struct{}, 1),
	}
}

// With waits for exclusive access and runs fn with the device. The device
// must not be used after fn returns.
func (h *Handle) With(ctx context.Context, fn func(Device) error) error {
	// A free semaphore would otherwise race a done context in the select.
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case h.sem <- struct{}{}:
	}
	defer func() { <-h.sem }()

	return h.borrow(fn)
}

// TryWith is With without waiting; it returns ErrBusy when the device is lent.
func (h *Handle) TryWith(fn func(Device) error) error {
	select {
	case h.sem <- struct{}{}:
	default:
		return ErrBusy
	}
	defer func() { <-h.sem }()

	return h.borrow(fn)
}

func (h *Handle) borrow(fn func(Device) error) error {
	if h.dev == nil {
		return ErrClosed
	}
	return fn(h.dev)
}

// Close waits for the current borrower and closes the device once.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.sem <- struct{}{}
		defer func() { <-h.sem }()
		if h.dev != nil {
			h.err = h.dev.Close()
			h.dev = nil
		}
	})
	return h.err
}
