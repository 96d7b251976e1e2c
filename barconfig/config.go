// Package barconfig parses the bar's key/value configuration file and
// watches it for changes.
//
// The file format is whitespace-separated tokens per line, one key per
// line followed by its value(s) — not YAML, since several keys (e.g.
// logging.debug ctx1 ctx2, scheduling.rt.cpu_affinity 0 1 2 3) are
// themselves whitespace-separated lists of bare tokens rather than scalar
// values a YAML decoder would map cleanly onto this shape.
package barconfig

import "time"

// SchedPolicy is the real-time scheduling policy applied to zone worker
// threads.
type SchedPolicy string

const (
	PolicyCFS  SchedPolicy = "cfs"
	PolicyFIFO SchedPolicy = "fifo"
	PolicyRR   SchedPolicy = "rr"
)

// RunnerThreads is the enabled/disabled toggle for a routing zone's
// dedicated worker thread, settable globally or per zone.
type RunnerThreads int

const (
	RunnerThreadsEnabled RunnerThreads = iota
	RunnerThreadsDisabled
)

// Defaults for keys the file may omit.
const (
	DefaultSchedPolicy   = PolicyFIFO
	DefaultSchedPriority = 20
	DefaultShmGroup      = "ias_audio"
	DefaultLogPeriodMs   = 20
	DefaultEntriesPerMsg = 18
	maxCPUAffinity       = 16
)

// DiagnosticDeviceConfig is one device's `alsahandler.diagnostic.<device>.*`
// configuration block.
type DiagnosticDeviceConfig struct {
	PortName       string
	CopyTo         string
	ErrorThreshold int
}

// Config is the parsed contents of the bar's configuration file. Any key
// absent from the file keeps its documented default.
type Config struct {
	// LoggingContexts maps a raised level name (off, fatal, error, warning,
	// info, debug, verbose) to the whitespace-separated DLT context ids
	// raised to it.
	LoggingContexts map[string][]string

	SchedPolicy   SchedPolicy
	SchedPriority int
	CPUAffinity   []int

	ShmGroup string

	RunnerThreadsDefault RunnerThreads
	RunnerThreadsByZone  map[string]RunnerThreads

	DiagnosticLogPeriod     time.Duration
	DiagnosticEntriesPerMsg int
	DiagnosticDevices       map[string]DiagnosticDeviceConfig
}

// defaultConfig returns a Config with every documented default applied.
func defaultConfig() *Config {
	return &Config{
		LoggingContexts:      make(map[string][]string),
		SchedPolicy:          DefaultSchedPolicy,
		SchedPriority:        DefaultSchedPriority,
		ShmGroup:             DefaultShmGroup,
		RunnerThreadsDefault: RunnerThreadsEnabled,
		RunnerThreadsByZone:  make(map[string]RunnerThreads),
		DiagnosticLogPeriod:  DefaultLogPeriodMs * time.Millisecond,
		DiagnosticEntriesPerMsg: DefaultEntriesPerMsg,
		DiagnosticDevices:    make(map[string]DiagnosticDeviceConfig),
	}
}

// RunnerThreadsFor resolves the effective runner-threads setting for a
// zone, falling back to the global default when no per-zone override
// exists.
func (c *Config) RunnerThreadsFor(zoneName string) RunnerThreads {
	if v, ok := c.RunnerThreadsByZone[zoneName]; ok {
		return v
	}
	return c.RunnerThreadsDefault
}

// DiagnosticFor resolves a device's diagnostic config, returning the zero
// value and false if the device has no `alsahandler.diagnostic.<device>.*`
// block.
func (c *Config) DiagnosticFor(device string) (DiagnosticDeviceConfig, bool) {
	d, ok := c.DiagnosticDevices[device]
	return d, ok
}
