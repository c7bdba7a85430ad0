package stats

import "testing"

func TestDumpProfileOneSampleTypePerCounterField(t *testing.T) {
	p := DumpProfile()
	if len(p.SampleType) == 0 {
		t.Fatalf("expected at least one sample type")
	}
	if len(p.Sample) != 1 {
		t.Fatalf("expected a single sample, got %d", len(p.Sample))
	}
	if len(p.Sample[0].Value) != len(p.SampleType) {
		t.Fatalf("sample value count %d does not match sample type count %d",
			len(p.Sample[0].Value), len(p.SampleType))
	}

	names := map[string]bool{}
	for _, st := range p.SampleType {
		names[st.Type] = true
	}
	for _, want := range []string{"Kallocs", "Kfrees", "ShareSplits", "FaultsFatal"} {
		if !names[want] {
			t.Fatalf("expected a sample type named %s", want)
		}
	}
}
