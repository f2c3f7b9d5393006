package h2c

// RFC 7540 Section 6.9.1.
const maxFlowWindow = 1<<31 - 1

// outflow tracks a send window. The window may become negative after
// the peer shrinks SETTINGS_INITIAL_WINDOW_SIZE, so it is kept signed.
// Callers hold the owning connection's flow mutex.
type outflow struct {
	n int32
}

func (fm *outflow) available() int32 {
	// rfc7540 6.9.2.
	// A sender MUST track the negative flow-control window and MUST
	// NOT send new flow-controlled frames until it receives
	// WINDOW_UPDATE frames that cause the window to become positive.
	if fm.n > 0 {
		return fm.n
	}
	return 0
}

func (fm *outflow) take(sz int32) {
	fm.n -= sz
}

func (fm *outflow) put(sz int32) bool {
	sum := fm.n + sz
	// overflow detection that works for negative incrs from settings
	if (sum > sz) == (fm.n > 0) || fm.n == 0 {
		fm.n = sum
		return true
	}
	return false
}

// golang/x/net/http2 says so
const inflowMinRefresh = 4 << 10

// inflow tracks a receive window: stage on frame receipt, grant once
// the bytes were handed to the consumer. Grants below the refresh
// threshold are batched to keep WINDOW_UPDATE traffic down.
type inflow struct {
	remaining, queued uint32
}

func (fm *inflow) init(sz uint32) {
	fm.remaining = sz
}

func (fm *inflow) stage(sz uint32) bool {
	if fm.remaining < sz {
		return false
	}
	fm.remaining -= sz
	return true
}

func (fm *inflow) grant(sz uint32) uint32 {
	fm.queued += sz
	if fm.queued >= inflowMinRefresh {
		windowUpd := fm.queued
		if windowUpd > maxFlowWindow {
			panic("flow control update exceeds maximum window size")
		}
		fm.queued = 0
		fm.remaining += windowUpd
		return windowUpd
	}
	return 0
}
