package ble

import (
	"context"
	"time"
)

// FindFirstDevice scans for up to timeout (0 = no timeout beyond ctx) and
// returns the first discovered device. It's the SCANNING -> FOUND step of
// the session supervisor's state machine; reconnection after a dropped
// session skips this step entirely and calls Transport.Connect with the
// last-known device id directly — no rescan.
func FindFirstDevice(ctx context.Context, t Transport, timeout time.Duration) (DiscoveredDevice, error) {
	scanCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	devices, err := t.Scan(scanCtx, timeout)
	if err != nil {
		return DiscoveredDevice{}, err
	}

	select {
	case d, ok := <-devices:
		if !ok {
			return DiscoveredDevice{}, &TransportError{Kind: ErrNotFound, Op: "scan", Err: context.DeadlineExceeded}
		}
		return d, nil
	case <-scanCtx.Done():
		return DiscoveredDevice{}, &TransportError{Kind: ErrNotFound, Op: "scan", Err: scanCtx.Err()}
	}
}
