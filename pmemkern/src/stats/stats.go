// Package stats collects the gated performance counters this
// subsystem's hot paths update, the way the teacher's own stats
// package collects Counter_t/Cycles_t fields that compile down to
// no-ops unless a build opts in (const Stats = false).
package stats

import (
	"reflect"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/number"
)

var dumpPrinter = message.NewPrinter(language.English)

/// Stats enables Counter_t.Inc; Timing enables Cycles_t.Add. Both
/// default off so instrumentation costs nothing on the fast path
/// until a debug build flips them on.
const Stats = false
const Timing = false

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds elapsed nanoseconds. The teacher's Cycles_t reads
/// runtime.Rdtsc(), a cycle-counter primitive that exists only on its
/// forked runtime; this subsystem runs hosted, so Cycles_t reads
/// time.Now().UnixNano() instead (documented in DESIGN.md) and the
/// field keeps the teacher's name and Add(since) signature.
type Cycles_t int64

/// Now returns the current timestamp in the same units Cycles_t.Add
/// expects, matching the teacher's Rdtsc()-as-a-timestamp idiom.
func Now() uint64 {
	if !Timing {
		return 0
	}
	return uint64(time.Now().UnixNano())
}

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed nanoseconds since m to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Now()-m))
	}
}

/// Pmem_t is the counter block this subsystem's components update:
/// one Counter_t per operation named in spec.md §2's per-component
/// line-count budget, so a debug build can see which component is hot.
type Pmem_t struct {
	Kallocs      Counter_t
	Kfrees       Counter_t
	ShareAdds    Counter_t
	ShareRemoves Counter_t
	ShareSplits  Counter_t
	Evictions    Counter_t
	Recoveries   Counter_t
	HotPtes      Counter_t
	ColdPtes     Counter_t
	FaultsSwapIn Counter_t
	FaultsCOW    Counter_t
	FaultsFatal  Counter_t
	EvictNs      Cycles_t
	RecoverNs    Cycles_t
}

/// Pmem is the process-wide counter block.
var Pmem = &Pmem_t{}

/// Dump renders Pmem as one comma-grouped "name: value" line per
/// counter, the way the teacher's own boot-time Phys_init reports
/// page counts, just extended to every gated counter this subsystem
/// keeps rather than a single free-page count.
func Dump() string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(*Pmem)
	t := v.Type()
	s := ""
	for i := 0; i < t.NumField(); i++ {
		switch f := v.Field(i).Interface().(type) {
		case Counter_t:
			s += dumpPrinter.Sprintf("%s: %d\n", t.Field(i).Name, number.Decimal(int64(f)))
		case Cycles_t:
			s += dumpPrinter.Sprintf("%s: %dns\n", t.Field(i).Name, number.Decimal(int64(f)))
		}
	}
	return s
}

/// DumpProfile renders the current counter values as a pprof
/// profile.Profile sample set (one sample type per counter, value in
/// units, no call-stack — this is an instrument dashboard, not a CPU
/// profile) so `go tool pprof` can be pointed at a subsystem snapshot.
/// Counters gated off by Stats/Timing simply report zero.
func DumpProfile() *profile.Profile {
	v := reflect.ValueOf(*Pmem)
	t := v.Type()
	p := &profile.Profile{
		SampleType: []*profile.ValueType{},
		TimeNanos:  time.Now().UnixNano(),
	}
	values := []int64{}
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Name
		var val int64
		switch f := v.Field(i).Interface().(type) {
		case Counter_t:
			val = int64(f)
		case Cycles_t:
			val = int64(f)
		default:
			continue
		}
		p.SampleType = append(p.SampleType, &profile.ValueType{Type: name, Unit: "count"})
		values = append(values, val)
	}
	p.Sample = []*profile.Sample{{Value: values}}
	return p
}
