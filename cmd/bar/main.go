/*
NAME
  bar - the audio bar daemon: loads a configuration and a topology file,
  wires up every device/zone/pipeline the topology describes, starts the
  zones it is allowed to run, and logs events until terminated.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/bar"
	"github.com/iasaudio/bar/barconfig"
	"github.com/iasaudio/bar/bar/topology"
	"github.com/iasaudio/bar/zone"
)

const progName = "bar"

func main() {
	var logLevel int
	var topologyPath string
	flag.IntVar(&logLevel, "LogLevel", int(logging.Debug), "Specifies log level")
	flag.StringVar(&topologyPath, "topology", "", "Path to the Topology XML file")
	flag.Parse()

	if logLevel < int(logging.Debug) || logLevel > int(logging.Fatal) {
		logLevel = int(logging.Info)
	}
	log := logging.New(int8(logLevel), os.Stderr, true)
	log.Info(progName + ": starting")

	cfg, err := barconfig.Load(log)
	if err != nil {
		log.Fatal("barconfig.Load failed", "error", err.Error())
	}

	b := bar.New(log, cfg)

	if topologyPath == "" {
		log.Fatal("-topology is required")
	}
	if err := loadTopology(b, topologyPath); err != nil {
		log.Fatal("topology load failed", "error", err.Error())
	}

	startZones(b, cfg, log)

	go logEvents(b, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info(progName + ": shutting down")
	stopZones(b, log)
}

func loadTopology(b *bar.Bar, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := topology.Parse(data)
	if err != nil {
		return err
	}
	return topology.Apply(b, doc)
}

func startZones(b *bar.Bar, cfg *barconfig.Config, log logging.Logger) {
	for id, name := range b.ZoneNames() {
		if cfg.RunnerThreadsFor(name) == barconfig.RunnerThreadsDisabled {
			log.Info("zone disabled by config, not starting", "zone", name)
			continue
		}
		if err := b.StartRoutingZone(id, schedulingFor(cfg)); err != nil {
			log.Error("StartRoutingZone failed", "zone", name, "error", err.Error())
			continue
		}
		log.Info("zone started", "zone", name)
	}
}

func stopZones(b *bar.Bar, log logging.Logger) {
	for id, name := range b.ZoneNames() {
		if err := b.StopRoutingZone(id); err != nil {
			log.Error("StopRoutingZone failed", "zone", name, "error", err.Error())
		}
	}
}

func schedulingFor(cfg *barconfig.Config) zone.Scheduling {
	var policy zone.Policy
	switch cfg.SchedPolicy {
	case barconfig.PolicyFIFO:
		policy = zone.SchedFIFO
	case barconfig.PolicyRR:
		policy = zone.SchedRR
	default:
		policy = zone.SchedOther
	}
	return zone.Scheduling{
		Policy:      policy,
		Priority:    cfg.SchedPriority,
		CPUAffinity: cfg.CPUAffinity,
	}
}

// logEvents drains the bar's event queue for the life of the process,
// logging each connection/setup/module event as it arrives.
func logEvents(b *bar.Bar, log logging.Logger) {
	for {
		if err := b.WaitForEvent(time.Second); err != nil {
			continue
		}
		for {
			ev, err := b.GetNextEvent()
			if err != nil {
				break
			}
			logEvent(log, ev)
		}
	}
}

func logEvent(log logging.Logger, ev bar.Event) {
	switch ev.Kind {
	case bar.ConnectionEvent:
		log.Info("connection event", "type", int(ev.Connection), "source", uint64(ev.Source), "sink", uint64(ev.Sink))
	case bar.SetupEvent:
		log.Info("setup event", "zone", uint64(ev.Zone), "message", ev.Message)
	case bar.ModuleEvent:
		log.Info("module event", "module", uint64(ev.Module), "message", ev.Message)
	}
}
