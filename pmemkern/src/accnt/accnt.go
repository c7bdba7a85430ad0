// Package accnt tracks per-process CPU time, the ambient accounting
// concern embedded in proc.Process_t the way the teacher embeds
// Accnt_t in its own process struct. The syscall-facing rusage export
// (To_rusage/Fetch) is dropped: the syscall surface is out of scope
// for this subsystem, so only the accumulation side survives.
package accnt

import "sync/atomic"
import "time"

/// Accnt_t accumulates per-process accounting information. Both
/// Userns and Sysns store runtime in nanoseconds.
type Accnt_t struct {
	/// Nanoseconds of user time consumed.
	Userns int64
	/// Nanoseconds of system time consumed.
	Sysns int64
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

/// Now returns the current time in nanoseconds.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

/// Finish adds the time elapsed since start to system time, the way a
/// page fault handler charges its own handling time to the faulting
/// process's system-time bucket.
func (a *Accnt_t) Finish(start int64) {
	a.Systadd(a.Now() - start)
}
