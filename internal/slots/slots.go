// Package slots holds the canonical trading-slot table and the time/session
// helpers used by every component that compares slot strings. All slot
// comparisons in the engine go through Normalize so that "7:30", " 07:30 "
// and "07:30" are the same slot.
package slots

import (
	"strconv"
	"strings"
	"sync"
)

// Canonical slot ends per session, Chicago local times. Frozen: the full set
// for a session never changes at runtime.
var slotEnds = map[string][]string{
	SessionS1: {"07:30", "08:00", "09:00"},
	SessionS2: {"09:30", "10:00", "10:30", "11:00"},
}

// Session identifiers.
const (
	SessionS1 = "S1"
	SessionS2 = "S2"
)

// sessionByTime maps every canonical slot to its session.
var sessionByTime = func() map[string]string {
	m := make(map[string]string)
	for session, times := range slotEnds {
		for _, t := range times {
			m[t] = session
		}
	}
	return m
}()

// Canonical returns the canonical slot ends for a session, in chronological
// order. The returned slice must not be mutated.
func Canonical(session string) []string {
	return slotEnds[session]
}

// All returns every canonical slot across both sessions in chronological
// order. This is the column universe for the per-slot matrix fields.
func All() []string {
	all := make([]string, 0, len(slotEnds[SessionS1])+len(slotEnds[SessionS2]))
	all = append(all, slotEnds[SessionS1]...)
	all = append(all, slotEnds[SessionS2]...)
	return all
}

// ---------------------------------------------------------------------------
// Time normalization
// ---------------------------------------------------------------------------

// normalizeCache is a bounded read-mostly cache keyed by the raw input
// string. Slot strings come from a small vocabulary, so the cache saturates
// quickly; the bound only guards against pathological inputs.
var normalizeCache = struct {
	sync.RWMutex
	m map[string]string
}{m: make(map[string]string)}

const normalizeCacheLimit = 4096

// Normalize converts a time string to canonical zero-padded "HH:MM" form.
// Whitespace is stripped; "7:30" becomes "07:30". Inputs that do not look
// like HH:MM are returned trimmed but otherwise unchanged.
func Normalize(raw string) string {
	normalizeCache.RLock()
	v, ok := normalizeCache.m[raw]
	normalizeCache.RUnlock()
	if ok {
		return v
	}

	v = normalize(raw)

	normalizeCache.Lock()
	if len(normalizeCache.m) >= normalizeCacheLimit {
		normalizeCache.m = make(map[string]string)
	}
	normalizeCache.m[raw] = v
	normalizeCache.Unlock()
	return v
}

func normalize(raw string) string {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return s
	}
	h := strings.TrimSpace(parts[0])
	m := strings.TrimSpace(parts[1])
	if h == "" || m == "" {
		return s
	}
	if len(h) == 1 {
		h = "0" + h
	}
	if len(m) == 1 {
		m = "0" + m
	}
	return h + ":" + m
}

// SessionOf returns the session a canonical slot belongs to. Unknown times
// default to S1; callers that cannot tolerate the default must validate the
// slot against Canonical first.
func SessionOf(t string) string {
	if s, ok := sessionByTime[Normalize(t)]; ok {
		return s
	}
	return SessionS1
}

// ---------------------------------------------------------------------------
// Scoring
// ---------------------------------------------------------------------------

// Result values recognised by the scorer.
const (
	ResultWin     = "Win"
	ResultLoss    = "Loss"
	ResultBE      = "BE"
	ResultNoTrade = "NoTrade"
	ResultTime    = "Time"
)

// Score maps a day's result to its rolling-history contribution. The
// Win/Loss asymmetry (+1 vs -2) is load-bearing: a single loss must outweigh
// a single win when slots compete.
func Score(result string) int {
	switch result {
	case ResultWin:
		return 1
	case ResultLoss:
		return -2
	default:
		return 0
	}
}

// SortKey returns (hour, minute) for chronological ordering of slot strings.
// Chronological sorts must not rely on lexical order of the raw strings.
func SortKey(t string) (int, int) {
	n := Normalize(t)
	parts := strings.SplitN(n, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h, m
}

// Before reports whether slot a is chronologically earlier than slot b.
func Before(a, b string) bool {
	ah, am := SortKey(a)
	bh, bm := SortKey(b)
	if ah != bh {
		return ah < bh
	}
	return am < bm
}
