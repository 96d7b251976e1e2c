package barconfig

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SchedPolicy != PolicyFIFO {
		t.Errorf("SchedPolicy = %v, want %v", cfg.SchedPolicy, PolicyFIFO)
	}
	if cfg.SchedPriority != DefaultSchedPriority {
		t.Errorf("SchedPriority = %v, want %v", cfg.SchedPriority, DefaultSchedPriority)
	}
	if cfg.ShmGroup != DefaultShmGroup {
		t.Errorf("ShmGroup = %v, want %v", cfg.ShmGroup, DefaultShmGroup)
	}
	if cfg.RunnerThreadsDefault != RunnerThreadsEnabled {
		t.Errorf("RunnerThreadsDefault = %v, want enabled", cfg.RunnerThreadsDefault)
	}
}

func TestParseRecognizedKeys(t *testing.T) {
	text := `
# comment lines and blanks are ignored

logging.debug ctx1 ctx2
scheduling.rt.policy rr
scheduling.rt.priority 42
scheduling.rt.cpu_affinity 0 1 2 3
shm.group custom_group
routingzone.runner_threads disabled
routingzone.runner_threads.mainZone enabled
alsahandler.diagnostic.log_period_time 50
alsahandler.diagnostic.num_entries_per_msg 12
alsahandler.diagnostic.usbMic.port_name mic0
alsahandler.diagnostic.usbMic.copy_to /var/diag
alsahandler.diagnostic.usbMic.error_threshold 3
`
	cfg, err := Parse(strings.NewReader(text), nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.LoggingContexts["debug"]; len(got) != 2 || got[0] != "ctx1" || got[1] != "ctx2" {
		t.Errorf("LoggingContexts[debug] = %v, want [ctx1 ctx2]", got)
	}
	if cfg.SchedPolicy != PolicyRR {
		t.Errorf("SchedPolicy = %v, want rr", cfg.SchedPolicy)
	}
	if cfg.SchedPriority != 42 {
		t.Errorf("SchedPriority = %v, want 42", cfg.SchedPriority)
	}
	if want := []int{0, 1, 2, 3}; !equalInts(cfg.CPUAffinity, want) {
		t.Errorf("CPUAffinity = %v, want %v", cfg.CPUAffinity, want)
	}
	if cfg.ShmGroup != "custom_group" {
		t.Errorf("ShmGroup = %v, want custom_group", cfg.ShmGroup)
	}
	if cfg.RunnerThreadsDefault != RunnerThreadsDisabled {
		t.Errorf("RunnerThreadsDefault = %v, want disabled", cfg.RunnerThreadsDefault)
	}
	if got := cfg.RunnerThreadsFor("mainZone"); got != RunnerThreadsEnabled {
		t.Errorf("RunnerThreadsFor(mainZone) = %v, want enabled", got)
	}
	if got := cfg.RunnerThreadsFor("otherZone"); got != RunnerThreadsDisabled {
		t.Errorf("RunnerThreadsFor(otherZone) = %v, want disabled (falls back to default)", got)
	}
	if cfg.DiagnosticLogPeriod != 50*time.Millisecond {
		t.Errorf("DiagnosticLogPeriod = %v, want 50ms", cfg.DiagnosticLogPeriod)
	}
	if cfg.DiagnosticEntriesPerMsg != 12 {
		t.Errorf("DiagnosticEntriesPerMsg = %v, want 12", cfg.DiagnosticEntriesPerMsg)
	}
	d, ok := cfg.DiagnosticFor("usbMic")
	if !ok {
		t.Fatal("expected a diagnostic block for usbMic")
	}
	if d.PortName != "mic0" || d.CopyTo != "/var/diag" || d.ErrorThreshold != 3 {
		t.Errorf("diagnostic config = %+v, want {mic0 /var/diag 3}", d)
	}
}

// TestEntriesPerMsgClampedAbove18 mirrors SPEC_FULL.md §9's preserved
// clamp: a configured value above 18 is rounded back down to 18, not
// rejected.
func TestEntriesPerMsgClampedAbove18(t *testing.T) {
	cfg, err := Parse(strings.NewReader("alsahandler.diagnostic.num_entries_per_msg 99\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DiagnosticEntriesPerMsg != DefaultEntriesPerMsg {
		t.Errorf("DiagnosticEntriesPerMsg = %v, want %v", cfg.DiagnosticEntriesPerMsg, DefaultEntriesPerMsg)
	}
}

func TestBadCPUAffinityCountIsRejected(t *testing.T) {
	var ids strings.Builder
	for i := 0; i < 17; i++ {
		if i > 0 {
			ids.WriteByte(' ')
		}
		ids.WriteString("0")
	}
	cfg, err := Parse(strings.NewReader("scheduling.rt.cpu_affinity "+ids.String()+"\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	// The bad line is skipped (logged, not fatal); CPUAffinity keeps its
	// unset default rather than picking up the 17-id list.
	if cfg.CPUAffinity != nil {
		t.Errorf("CPUAffinity = %v, want nil after rejecting an over-long list", cfg.CPUAffinity)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
