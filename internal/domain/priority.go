package domain

// Priority is a 64-bit scheduling key. The thread pool always dequeues the
// largest key first, so a higher value means higher urgency. The key packs
// two independent axes into one comparable integer:
//
//   - a "major" component in the top byte, derived from a caller-supplied
//     base priority clamped to [0, 9] and scaled by 10 — this is the coarse
//     class a request was submitted at (interactive vs. batch, say);
//   - the remaining 56 low bits carry a fine-grained bias (see Bias), which
//     a Cache sets to the negated request id of a batch's first item so
//     that, within one major band, older requests sort ahead of newer ones.
//
// Offset/Next bump the major component itself: advancing a task through
// a pipeline stage raises its major band by one, so it preempts freshly
// arriving work of the same base priority — matching the original
// priority.h, where Offset(priority, offset) is priority + (offset << 56).
type Priority int64

// majorShift places the major component in the top byte of the key,
// leaving 56 low bits for the fine-grained bias.
const majorShift = 56

// BaseToMajor converts a caller base priority (clamped to [0, 9], with
// larger meaning more urgent) into the key's major component.
func BaseToMajor(base int) int64 {
	if base < 0 {
		base = 0
	}
	if base > 9 {
		base = 9
	}
	return 10 * int64(base)
}

// ShiftMajor shifts a major value into position as a Priority key.
func ShiftMajor(major int64) Priority {
	return Priority(major << majorShift)
}

// NewPriority builds the initial key for a request submitted at the given
// base priority.
func NewPriority(base int) Priority {
	return ShiftMajor(BaseToMajor(base))
}

// Offset returns p with its major component bumped by delta, i.e.
// p + (delta << majorShift) — the same shift ShiftMajor applies when
// building the initial key.
func Offset(p Priority, delta int64) Priority {
	return p + ShiftMajor(delta)
}

// Next returns p advanced by exactly one major band — the bump applied
// each time a task clears a pipeline stage, so later stages of an
// in-flight request preempt a newly arriving task of equal base priority.
func Next(p Priority) Priority {
	return Offset(p, 1)
}

// Bias returns p with delta added directly to its raw low bits, without
// touching the major band — matching priority.h's Priority::Get, which a
// Cache uses to break ties within one major band by request id (a bias
// of -request_id sorts older requests first). Unlike Offset, Bias must
// never be used for pipeline-stage advancement: a large enough bias would
// bleed into the major band and cross into a different base-priority
// class.
func Bias(p Priority, bias int64) Priority {
	return p + Priority(bias)
}
