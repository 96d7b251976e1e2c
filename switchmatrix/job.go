/*
NAME
  job.go

DESCRIPTION
  job implements the switch-matrix job: a directed source-port -> sink-
  port edge that format-converts (and, when rates differ, ASRC-converts)
  one source period into the sink's write area each tick, with optional
  probe capture/inject, per SPEC_FULL.md §4.5. Grounded on the teacher's
  device/alsa.go negotiation-then-steady-state-loop shape, generalized
  from one hardware endpoint to an arbitrary source/sink ring pair.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package switchmatrix implements the bar's routing layer: jobs (one
// source->sink edge), buffer tasks (one source's fan-out), and the
// global switch matrix that owns them.
package switchmatrix

import (
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/iasaudio/bar/asrc"
	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/pcmformat"
	"github.com/iasaudio/bar/ring"
)

// Port bundles a ring buffer and its owning port's channel count, the
// minimal view a job needs of either side of its edge.
type Port struct {
	ID       barid.PortID
	RingBuf  *ring.Buffer
	Channels int
	Rate     float64
}

// jobState is the §3 "Switch-matrix job" state: initialized, active, and
// optionally probing.
type jobState int

const (
	stateInitialized jobState = iota
	stateActive
)

// Job is one source-port -> sink-port routing edge.
type Job struct {
	ID   barid.JobID
	Src  Port
	Sink Port

	mu         sync.Mutex
	state      jobState
	sameRate   bool
	conv       *asrc.Converter
	probe      *probe
	injectLeft int // remaining periods of injection
}

// NewJob constructs a job wiring src to sink. If the two ports' sample
// rates differ, an ASRC converter is created; numPeriodsAsrcBuffer must
// be the sink's own buffer depth, satisfying the >= 4 period requirement.
func NewJob(id barid.JobID, src, sink Port, numPeriodsAsrcBuffer int) (*Job, error) {
	if src.RingBuf == nil || sink.RingBuf == nil {
		return nil, barerr.New(barerr.InvalidParam, "switchmatrix.NewJob", nil)
	}
	j := &Job{ID: id, Src: src, Sink: sink, state: stateInitialized}
	if src.Rate == sink.Rate {
		j.sameRate = true
	} else {
		conv, err := asrc.New(src.Rate, sink.Rate, sink.Channels, sink.RingBuf.Capacity()/numPeriodsAsrcBuffer, numPeriodsAsrcBuffer)
		if err != nil {
			return nil, err
		}
		j.conv = conv
	}
	j.state = stateActive
	return j, nil
}

// Tick runs one period's transfer: convert srcAreas/srcFrames (a view
// the owning BufferTask acquired once and shares, unchanged, across
// every job fanning out of that source) into the sink write area
// (directly or via ASRC), commit the sink cursor, and fan out to an
// active probe. The source cursor itself is committed once by the
// caller after every job has run, not per job.
func (j *Job) Tick(srcAreas []ring.Area, srcFrames, sinkPeriod int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	sinkAreas, sinkOff, sinkFrames, err := j.Sink.RingBuf.BeginAccess(ring.Write, sinkPeriod)
	if err != nil {
		return barerr.Wrap(barerr.RingBufferError, "switchmatrix.Job.Tick", err)
	}
	defer j.Sink.RingBuf.EndAccess(ring.Write, sinkOff, sinkFrames)

	if sinkFrames == 0 {
		return nil
	}

	srcSamples := readArea(srcAreas, srcFrames, j.Src.Channels)
	var outSamples []float32

	if j.sameRate {
		outSamples = remapChannels(srcSamples, j.Src.Channels, j.Sink.Channels, sinkFrames)
	} else {
		j.conv.Feed(srcSamples)
		dst := make([]float32, sinkFrames*j.Sink.Channels)
		if _, err := j.conv.Pull(dst, sinkFrames); err != nil {
			return err
		}
		outSamples = dst
	}

	if j.injectLeft > 0 && j.probe != nil {
		if n, ok := j.probe.readInto(outSamples); ok {
			_ = n
			j.injectLeft--
		}
	} else if j.probe != nil && j.probe.recording {
		j.probe.write(outSamples)
	}

	writeArea(sinkAreas, outSamples, sinkFrames, j.Sink.Channels)
	return nil
}

// remapChannels handles the same-rate fast path's simple repeat/drop
// channel mapping: fewer source channels than sink repeats the last
// source channel, more source channels than sink drops the excess.
func remapChannels(src []float32, srcCh, sinkCh, frames int) []float32 {
	if srcCh == sinkCh {
		return src
	}
	out := make([]float32, frames*sinkCh)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < sinkCh; ch++ {
			sc := ch
			if sc >= srcCh {
				sc = srcCh - 1
			}
			out[f*sinkCh+ch] = src[f*srcCh+sc]
		}
	}
	return out
}

func readArea(areas []ring.Area, frames, channels int) []float32 {
	out := make([]float32, frames*channels)
	if len(areas) == 0 {
		return out
	}
	a := areas[0]
	byteOff := a.FirstBit / 8
	for i := range out {
		off := byteOff + i*4
		if off+4 > len(a.Data) {
			break
		}
		out[i] = floatAt(a.Data[off : off+4])
	}
	return out
}

func writeArea(areas []ring.Area, samples []float32, frames, channels int) {
	if len(areas) == 0 {
		return
	}
	a := areas[0]
	byteOff := a.FirstBit / 8
	n := frames * channels
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		off := byteOff + i*4
		if off+4 > len(a.Data) {
			break
		}
		putFloatAt(a.Data[off:off+4], samples[i])
	}
}

// StartProbe opens a capture or injection file for this job. Capture
// records a copy of every sink-side period to WAV via go-audio/wav;
// injection replaces sink frames with WAV file contents for the next n
// periods. Starting a probe while one is already active fails, per
// SPEC_FULL.md §4.5.
func (j *Job) StartProbe(path string, record bool, periods int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.probe != nil {
		return barerr.New(barerr.AlreadyInUse, "switchmatrix.Job.StartProbe", nil)
	}
	p, err := newProbe(path, record, j.Sink.Channels, int(j.Sink.Rate))
	if err != nil {
		return err
	}
	j.probe = p
	if !record {
		j.injectLeft = periods
	}
	return nil
}

// StopProbe closes the active probe, if any.
func (j *Job) StopProbe() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.probe == nil {
		return nil
	}
	err := j.probe.close()
	j.probe = nil
	j.injectLeft = 0
	return err
}

// probe wraps a go-audio/wav encoder or decoder used by StartProbe/
// StopProbe.
type probe struct {
	recording bool
	file      *os.File
	enc       *wav.Encoder
	dec       *wav.Decoder
	channels  int
	rate      int
}

func newProbe(path string, record bool, channels, rate int) (*probe, error) {
	if record {
		f, err := os.Create(path)
		if err != nil {
			return nil, barerr.Wrap(barerr.InitFailed, "switchmatrix.newProbe", err)
		}
		enc := wav.NewEncoder(f, rate, 32, channels, 3) // format 3: IEEE float
		return &probe{recording: true, file: f, enc: enc, channels: channels, rate: rate}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, barerr.Wrap(barerr.InitFailed, "switchmatrix.newProbe", err)
	}
	dec := wav.NewDecoder(f)
	return &probe{recording: false, file: f, dec: dec, channels: channels, rate: rate}, nil
}

func (p *probe) write(samples []float32) {
	if p.enc == nil {
		return
	}
	ints := make([]int, len(samples))
	for i, v := range samples {
		ints[i] = int(v * (1 << 23))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: p.channels, SampleRate: p.rate},
		Data:           ints,
		SourceBitDepth: 32,
	}
	p.enc.Write(buf)
}

func (p *probe) readInto(dst []float32) (int, bool) {
	if p.dec == nil {
		return 0, false
	}
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: p.channels, SampleRate: p.rate}, Data: make([]int, len(dst))}
	n, err := p.dec.PCMBuffer(buf)
	if err != nil || n == 0 {
		return 0, false
	}
	for i := 0; i < n && i < len(dst); i++ {
		dst[i] = float32(buf.Data[i]) / (1 << 23)
	}
	return n, true
}

func (p *probe) close() error {
	if p.enc != nil {
		if err := p.enc.Close(); err != nil {
			p.file.Close()
			return err
		}
	}
	return p.file.Close()
}

func floatAt(b []byte) float32 {
	v, _ := pcmformat.F32.Decode(b)
	return v
}

func putFloatAt(dst []byte, v float32) {
	pcmformat.F32.Encode(dst, v)
}
