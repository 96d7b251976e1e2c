package barconfig

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/barerr"
)

// loggingLevels are the level names recognized by the
// `logging.<level> ctx1 ctx2 ...` key family.
var loggingLevels = map[string]bool{
	"off": true, "fatal": true, "error": true, "warning": true,
	"info": true, "debug": true, "verbose": true,
}

// Parse reads a configuration file from r, applying every recognized key
// on top of the documented defaults. Unrecognized keys and malformed
// lines are logged and skipped rather than treated as fatal, matching the
// teacher's own tolerant config-reader style.
func Parse(r io.Reader, l logging.Logger) (*Config, error) {
	cfg := defaultConfig()

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		key := fields[0]
		values := fields[1:]
		if err := applyKey(cfg, key, values); err != nil && l != nil {
			l.Error("barconfig: skipping bad line", "line", line, "key", key, "error", err.Error())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, barerr.Wrap(barerr.InvalidParam, "barconfig.Parse", err)
	}
	return cfg, nil
}

// applyKey routes one key to its handler: an exact match in the logging.*
// family, a fixed-name setting, or a `<namespace>.<name>.<suffix>` dynamic
// override.
func applyKey(cfg *Config, key string, values []string) error {
	switch {
	case strings.HasPrefix(key, "logging."):
		level := strings.TrimPrefix(key, "logging.")
		if !loggingLevels[level] {
			return barerr.New(barerr.InvalidParam, "barconfig.applyKey", nil)
		}
		cfg.LoggingContexts[level] = values
		return nil

	case key == "scheduling.rt.policy":
		return applySchedPolicy(cfg, values)

	case key == "scheduling.rt.priority":
		return applySchedPriority(cfg, values)

	case key == "scheduling.rt.cpu_affinity":
		return applyCPUAffinity(cfg, values)

	case key == "shm.group":
		if len(values) != 1 {
			return barerr.New(barerr.InvalidParam, "barconfig.applyKey", nil)
		}
		cfg.ShmGroup = values[0]
		return nil

	case key == "routingzone.runner_threads":
		rt, err := parseRunnerThreads(values)
		if err != nil {
			return err
		}
		cfg.RunnerThreadsDefault = rt
		return nil

	case strings.HasPrefix(key, "routingzone.runner_threads."):
		zone := strings.TrimPrefix(key, "routingzone.runner_threads.")
		rt, err := parseRunnerThreads(values)
		if err != nil {
			return err
		}
		cfg.RunnerThreadsByZone[zone] = rt
		return nil

	case key == "alsahandler.diagnostic.log_period_time":
		return applyLogPeriod(cfg, values)

	case key == "alsahandler.diagnostic.num_entries_per_msg":
		return applyEntriesPerMsg(cfg, values)

	case strings.HasPrefix(key, "alsahandler.diagnostic."):
		return applyDiagnosticDeviceKey(cfg, key, values)

	default:
		return barerr.New(barerr.InvalidParam, "barconfig.applyKey", nil)
	}
}

func applySchedPolicy(cfg *Config, values []string) error {
	if len(values) != 1 {
		return barerr.New(barerr.InvalidParam, "barconfig.applySchedPolicy", nil)
	}
	switch SchedPolicy(values[0]) {
	case PolicyCFS, PolicyFIFO, PolicyRR:
		cfg.SchedPolicy = SchedPolicy(values[0])
		return nil
	default:
		return barerr.New(barerr.InvalidParam, "barconfig.applySchedPolicy", nil)
	}
}

func applySchedPriority(cfg *Config, values []string) error {
	if len(values) != 1 {
		return barerr.New(barerr.InvalidParam, "barconfig.applySchedPriority", nil)
	}
	n, err := strconv.Atoi(values[0])
	if err != nil || n < 0 || n > 99 {
		return barerr.New(barerr.InvalidParam, "barconfig.applySchedPriority", nil)
	}
	cfg.SchedPriority = n
	return nil
}

func applyCPUAffinity(cfg *Config, values []string) error {
	if len(values) == 0 || len(values) > maxCPUAffinity {
		return barerr.New(barerr.InvalidParam, "barconfig.applyCPUAffinity", nil)
	}
	ids := make([]int, 0, len(values))
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return barerr.New(barerr.InvalidParam, "barconfig.applyCPUAffinity", nil)
		}
		ids = append(ids, n)
	}
	cfg.CPUAffinity = ids
	return nil
}

func parseRunnerThreads(values []string) (RunnerThreads, error) {
	if len(values) != 1 {
		return 0, barerr.New(barerr.InvalidParam, "barconfig.parseRunnerThreads", nil)
	}
	switch values[0] {
	case "enabled":
		return RunnerThreadsEnabled, nil
	case "disabled":
		return RunnerThreadsDisabled, nil
	default:
		return 0, barerr.New(barerr.InvalidParam, "barconfig.parseRunnerThreads", nil)
	}
}

func applyLogPeriod(cfg *Config, values []string) error {
	if len(values) != 1 {
		return barerr.New(barerr.InvalidParam, "barconfig.applyLogPeriod", nil)
	}
	ms, err := strconv.Atoi(values[0])
	if err != nil || ms < 0 {
		return barerr.New(barerr.InvalidParam, "barconfig.applyLogPeriod", nil)
	}
	cfg.DiagnosticLogPeriod = time.Duration(ms) * time.Millisecond
	return nil
}

func applyEntriesPerMsg(cfg *Config, values []string) error {
	if len(values) != 1 {
		return barerr.New(barerr.InvalidParam, "barconfig.applyEntriesPerMsg", nil)
	}
	n, err := strconv.Atoi(values[0])
	if err != nil {
		return barerr.New(barerr.InvalidParam, "barconfig.applyEntriesPerMsg", nil)
	}
	if n <= 0 || n > DefaultEntriesPerMsg {
		n = DefaultEntriesPerMsg
	}
	cfg.DiagnosticEntriesPerMsg = n
	return nil
}

// applyDiagnosticDeviceKey handles
// alsahandler.diagnostic.<device>.{port_name,copy_to,error_threshold}.
func applyDiagnosticDeviceKey(cfg *Config, key string, values []string) error {
	rest := strings.TrimPrefix(key, "alsahandler.diagnostic.")
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return barerr.New(barerr.InvalidParam, "barconfig.applyDiagnosticDeviceKey", nil)
	}
	device, field := parts[0], parts[1]
	if len(values) == 0 {
		return barerr.New(barerr.InvalidParam, "barconfig.applyDiagnosticDeviceKey", nil)
	}
	d := cfg.DiagnosticDevices[device]
	switch field {
	case "port_name":
		d.PortName = values[0]
	case "copy_to":
		d.CopyTo = values[0]
	case "error_threshold":
		n, err := strconv.Atoi(values[0])
		if err != nil || n < 0 {
			return barerr.New(barerr.InvalidParam, "barconfig.applyDiagnosticDeviceKey", nil)
		}
		d.ErrorThreshold = n
	default:
		return barerr.New(barerr.InvalidParam, "barconfig.applyDiagnosticDeviceKey", nil)
	}
	cfg.DiagnosticDevices[device] = d
	return nil
}
