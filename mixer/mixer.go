/*
NAME
  mixer.go

DESCRIPTION
  mixer implements the elementary mixer: per output stream, a ramped
  balance/fader/input-gain-offset per input stream, drained from three
  mutex-guarded spscqueue command queues once per period and applied sample-by-sample
  through the 4x4 gain-tile kernel in tile.go, per SPEC_FULL.md §4.9.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package mixer implements the per-output-stream elementary mixer, its
// ramped balance/fader/gain controls, and the 4x4 gain-tile kernel, per
// SPEC_FULL.md §4.9.
package mixer

import (
	"math"
	"sort"

	"github.com/iasaudio/bar/barerr"
	"github.com/iasaudio/bar/barid"
	"github.com/iasaudio/bar/bundle"
	"github.com/iasaudio/bar/ramp"
	"github.com/iasaudio/bar/spscqueue"
)

const defaultRampMs = 20 // transition time for balance/fader/gain changes

// EventKind distinguishes which control finished ramping.
type EventKind int

const (
	BalanceFinished EventKind = iota
	FaderFinished
	GainFinished
)

// FinishedEvent reports a ramp reaching its target value, converted to
// the mixer's dB*10 convention with the -144 dB mute sentinel, per
// SPEC_FULL.md §4.9 step 3.
type FinishedEvent struct {
	Stream barid.PinID
	Kind   EventKind
	DB10   int
}

type balanceCmd struct {
	stream      barid.PinID
	left, right float64
}

type faderCmd struct {
	stream      barid.PinID
	front, rear float64
}

type gainCmd struct {
	stream barid.PinID
	gainDB float64
}

type tileKey struct{ outBundle, inBundle int }

// inputStream is one elementary mixer's bookkeeping for a single input
// stream: its channel count and the three ramped controls, each
// initialized to a no-op ramp (constant 1, or 0 for balance) so a stream
// with no setter calls yet still mixes at unity gain.
type inputStream struct {
	id       barid.PinID
	channels int

	balanceL, balanceR   *ramp.Ramp
	faderFront, faderRear *ramp.Ramp
	gainOffset           *ramp.Ramp

	// balanceRamping/faderRamping/gainRamping record whether the
	// corresponding control was still in flight as of the previous
	// Process call, so collectFinished emits exactly one *Finished
	// event per transition instead of re-reporting a settled value
	// every subsequent period.
	balanceRamping, faderRamping, gainRamping bool

	// cachedTiles holds the last-computed per-(outBundle,inBundle) tile,
	// reused whenever none of this stream's ramps are currently in
	// flight.
	cachedTiles map[tileKey]gainTile
}

func unityRamp(fs float64) *ramp.Ramp {
	r, _ := ramp.New(1, 1, 1, ramp.Linear, fs)
	return r
}

func newInputStream(id barid.PinID, channels int, fs float64) *inputStream {
	return &inputStream{
		id:          id,
		channels:    channels,
		balanceL:    unityRamp(fs),
		balanceR:    unityRamp(fs),
		faderFront:  unityRamp(fs),
		faderRear:   unityRamp(fs),
		gainOffset:  unityRamp(fs),
		cachedTiles: make(map[tileKey]gainTile),
	}
}

func (s *inputStream) ramping() bool {
	return s.balanceL.Remaining() > 0 || s.balanceR.Remaining() > 0 ||
		s.faderFront.Remaining() > 0 || s.faderRear.Remaining() > 0 ||
		s.gainOffset.Remaining() > 0
}

// ElementaryMixer mixes some number of input streams into one output
// stream's bundles, one instance per output stream per SPEC_FULL.md
// §4.9's "mixer decomposes into elementary mixers, one per output
// stream."
type ElementaryMixer struct {
	OutChannels int
	sampleRate  float64

	inputs map[barid.PinID]*inputStream
	order  []barid.PinID // insertion order, kept stable for deterministic mixing

	balanceQ *spscqueue.Queue[balanceCmd]
	faderQ   *spscqueue.Queue[faderCmd]
	gainQ    *spscqueue.Queue[gainCmd]

	// rampMs is the transition time armRamps gives every newly-queued
	// balance/fader/gain change; SetRampDuration overrides the default,
	// per SPEC_FULL.md §8's 100 ms balance-ramp scenario.
	rampMs float64

	pending []FinishedEvent
}

// New constructs an elementary mixer for one output stream of
// outChannels channels at sample rate fs.
func New(outChannels int, fs float64) *ElementaryMixer {
	return &ElementaryMixer{
		OutChannels: outChannels,
		sampleRate:  fs,
		inputs:      make(map[barid.PinID]*inputStream),
		balanceQ:    spscqueue.New[balanceCmd](64),
		faderQ:      spscqueue.New[faderCmd](64),
		gainQ:       spscqueue.New[gainCmd](64),
		rampMs:      defaultRampMs,
	}
}

// SetRampDuration overrides the transition time applied to every
// balance/fader/gain change armed after this call (existing in-flight
// ramps are unaffected), failing on a non-positive duration.
func (m *ElementaryMixer) SetRampDuration(ms float64) error {
	if ms <= 0 {
		return barerr.New(barerr.InvalidParam, "mixer.SetRampDuration", nil)
	}
	m.rampMs = ms
	return nil
}

// AddInputStream registers a new input stream of the given channel
// count (1, 2, or 6, per SPEC_FULL.md §4.9's routing rules) so its id
// becomes a valid target for SetBalance/SetFader/SetInputGainOffset.
func (m *ElementaryMixer) AddInputStream(id barid.PinID, channels int) error {
	if channels != 1 && channels != 2 && channels != 6 {
		return barerr.New(barerr.InvalidParam, "mixer.AddInputStream", nil)
	}
	m.inputs[id] = newInputStream(id, channels, m.sampleRate)
	m.order = append(m.order, id)
	return nil
}

// RemoveInputStream drops a stream from this elementary mixer (e.g. on
// disconnect).
func (m *ElementaryMixer) RemoveInputStream(id barid.PinID) {
	delete(m.inputs, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// SetBalance enqueues a balance change (left/right gain, linear) for
// stream id, failing immediately with invalid-parameter if id is
// unknown, per SPEC_FULL.md §4.9's failure rule; the change itself is
// applied and ramped at the next Process call.
func (m *ElementaryMixer) SetBalance(id barid.PinID, left, right float64) error {
	if _, ok := m.inputs[id]; !ok {
		return barerr.New(barerr.InvalidParam, "mixer.SetBalance", nil)
	}
	m.balanceQ.Push(balanceCmd{stream: id, left: left, right: right})
	return nil
}

// SetFader enqueues a front/rear fader change (linear gain) for stream
// id.
func (m *ElementaryMixer) SetFader(id barid.PinID, front, rear float64) error {
	if _, ok := m.inputs[id]; !ok {
		return barerr.New(barerr.InvalidParam, "mixer.SetFader", nil)
	}
	m.faderQ.Push(faderCmd{stream: id, front: front, rear: rear})
	return nil
}

// SetInputGainOffset enqueues an input gain-offset change (in dB) for
// stream id.
func (m *ElementaryMixer) SetInputGainOffset(id barid.PinID, gainDB float64) error {
	if _, ok := m.inputs[id]; !ok {
		return barerr.New(barerr.InvalidParam, "mixer.SetInputGainOffset", nil)
	}
	m.gainQ.Push(gainCmd{stream: id, gainDB: gainDB})
	return nil
}

// DrainFinishedEvents returns and clears the *Finished events produced
// by the most recent Process call.
func (m *ElementaryMixer) DrainFinishedEvents() []FinishedEvent {
	ev := m.pending
	m.pending = nil
	return ev
}

// hasSixChannelInput reports whether any currently-registered input
// stream is 6-channel, per SPEC_FULL.md §4.9's rule that 6-channel
// inputs suppress balance/fader's effect on center/LFE for every other
// input in the same elementary mixer.
func (m *ElementaryMixer) hasSixChannelInput() bool {
	for _, s := range m.inputs {
		if s.channels == 6 {
			return true
		}
	}
	return false
}

// Process arms ramps from the three command queues, then mixes every
// registered input stream's bundles into out, accumulating, per
// SPEC_FULL.md §4.9's per-period execution contract. inputs maps a
// stream id to that stream's bundle sequence (ceil(channels/4) bundles,
// per the pipeline's bundling rule); out is this mixer's output bundle
// sequence, already cleared by the caller.
func (m *ElementaryMixer) Process(inputs map[barid.PinID][]*bundle.Bundle, out []*bundle.Bundle) {
	m.armRamps()

	sixCh := m.hasSixChannelInput()

	ids := make([]barid.PinID, len(m.order))
	copy(ids, m.order)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s := m.inputs[id]
		in, ok := inputs[id]
		if !ok || len(in) == 0 {
			continue
		}
		m.mixStream(s, in, out, sixCh)
	}

	m.collectFinished()
}

func (m *ElementaryMixer) armRamps() {
	for _, c := range m.balanceQ.DrainAll() {
		s, ok := m.inputs[c.stream]
		if !ok {
			continue
		}
		s.balanceL, _ = ramp.New(s.balanceL.Value(), c.left, m.rampMs, ramp.Linear, m.sampleRate)
		s.balanceR, _ = ramp.New(s.balanceR.Value(), c.right, m.rampMs, ramp.Linear, m.sampleRate)
	}
	for _, c := range m.faderQ.DrainAll() {
		s, ok := m.inputs[c.stream]
		if !ok {
			continue
		}
		s.faderFront, _ = ramp.New(s.faderFront.Value(), c.front, m.rampMs, ramp.Linear, m.sampleRate)
		s.faderRear, _ = ramp.New(s.faderRear.Value(), c.rear, m.rampMs, ramp.Linear, m.sampleRate)
	}
	for _, c := range m.gainQ.DrainAll() {
		s, ok := m.inputs[c.stream]
		if !ok {
			continue
		}
		target := dbToLinear(c.gainDB)
		s.gainOffset, _ = ramp.New(s.gainOffset.Value(), target, m.rampMs, ramp.Exponential, m.sampleRate)
	}
}

func dbToLinear(db float64) float64 {
	if db <= -144 {
		return 0
	}
	return math.Pow(10, db/20)
}

// mixStream applies stream s's current per-sample gains to its input
// bundles, accumulating into out, per SPEC_FULL.md §4.9's routing
// rules. sixCh reports whether any input stream in this elementary
// mixer is 6-channel (suppressing balance/fader's effect on center/LFE
// for every other stream).
func (m *ElementaryMixer) mixStream(s *inputStream, in, out []*bundle.Bundle, sixCh bool) {
	if len(in) == 0 || len(out) == 0 {
		return
	}
	frames := in[0].Frames()

	if !s.ramping() {
		for outB := range out {
			for inB := range in {
				tile, ok := s.cachedTiles[tileKey{outB, inB}]
				if !ok {
					tile = s.staticTile(outB, inB, sixCh)
					s.cachedTiles[tileKey{outB, inB}] = tile
				}
				applyAccumulate(tile, in[inB], out[outB])
			}
		}
		return
	}

	balL := make([]float64, frames)
	balR := make([]float64, frames)
	fFront := make([]float64, frames)
	fRear := make([]float64, frames)
	gOff := make([]float64, frames)
	s.balanceL.Next(balL)
	s.balanceR.Next(balR)
	s.faderFront.Next(fFront)
	s.faderRear.Next(fRear)
	s.gainOffset.Next(gOff)

	for f := 0; f < frames; f++ {
		for outB := range out {
			for inB := range in {
				tile := s.tileFor(outB, inB, sixCh, balL[f], balR[f], fFront[f], fRear[f], gOff[f])
				applyAccumulateSample(tile, in[inB], out[outB], f)
			}
		}
	}

	// Drop the tiles cached before this ramp; the first static period
	// after the ramp settles recomputes them from the final gain values.
	s.cachedTiles = make(map[tileKey]gainTile)
}

// staticTile computes stream s's gain tile for the (outBundle,inBundle)
// pair at its current (non-ramping) gain values.
func (s *inputStream) staticTile(outB, inB int, sixCh bool) gainTile {
	return s.tileFor(outB, inB, sixCh,
		s.balanceL.Value(), s.balanceR.Value(),
		s.faderFront.Value(), s.faderRear.Value(),
		s.gainOffset.Value())
}

// tileFor builds the 4x4 gain tile routing in-bundle inB's channels to
// out-bundle outB's channels for this stream's channel count, per
// SPEC_FULL.md §4.9's routing rules:
//   - 1 channel: mono up-mix to the first two output channels.
//   - 2 channels: L->FL, R->FR; rear gets 0.707*balance when the output
//     has >=4 channels and no 6-channel input shares this mixer.
//   - 6 channels: placed FL,FR,C,LFE,RL,RR; center attenuation is
//     1-|balanceR-balanceL|/2 when balances differ, else the common
//     balance value.
//   - When sixCh is true, balance/fader on 1-/2-channel inputs never
//     reach C or LFE (output channels 2 and 3 of the first bundle).
func (s *inputStream) tileFor(outB, inB int, sixCh bool, balL, balR, fFront, fRear, gOff float64) gainTile {
	var t gainTile
	g := float32(gOff)

	switch s.channels {
	case 1:
		if inB != 0 || outB != 0 {
			return t
		}
		t[0][0] = float32(balL*fFront) * g
		t[1][0] = float32(balR*fFront) * g
	case 2:
		if inB != 0 {
			return t
		}
		switch outB {
		case 0:
			t[0][0] = float32(balL*fFront) * g
			t[1][1] = float32(balR*fFront) * g
		case 1:
			if sixCh {
				// A 6-channel input shares this mixer: per SPEC_FULL.md
				// §4.9, a 2-channel input's balance does not spill into
				// rear when multichannel input is present.
				return t
			}
			// Rear channels (RL, RR) live in the second output bundle
			// when the output has >=4 channels; 0.707 constant per
			// SPEC_FULL.md §4.9.
			t[0][0] = float32(0.707*balL*fRear) * g
			t[1][1] = float32(0.707*balR*fRear) * g
		}
	case 6:
		if inB != outB {
			return t
		}
		switch outB {
		case 0:
			// FL, FR, C, LFE.
			t[0][0] = float32(balL*fFront) * g
			t[1][1] = float32(balR*fFront) * g
			t[2][2] = centerAttenuation(balL, balR) * g
			t[3][3] = g // LFE unaffected by balance/fader.
		case 1:
			// RL, RR.
			t[0][0] = float32(balL*fRear) * g
			t[1][1] = float32(balR*fRear) * g
		}
	}

	// 1-channel routing and the 2-channel front case above never target
	// output channels 2 (C) or 3 (LFE) in the first bundle; combined
	// with the rear-suppression above, this satisfies "balance/fader on
	// 1- and 2-channel inputs do not affect C or LFE" per SPEC_FULL.md
	// §4.9 without further special-casing here.

	return t
}

// centerAttenuation implements SPEC_FULL.md §4.9's center-channel
// attenuation formula for a 6-channel input: 1-|balanceR-balanceL|/2
// when the balances differ, else the common balance value.
func centerAttenuation(balL, balR float64) float32 {
	if balL == balR {
		return float32(balL)
	}
	return float32(1 - math.Abs(balR-balL)/2)
}

// applyAccumulateSample is applyAccumulate restricted to a single frame
// index, used while a stream's gains are still ramping (recomputed tile
// every sample per SPEC_FULL.md §4.9 step 2).
func applyAccumulateSample(tile gainTile, in, out *bundle.Bundle, frame int) {
	inData := in.Data()
	outData := out.Data()
	base := frame * bundle.Channels
	for outCh := 0; outCh < bundle.Channels; outCh++ {
		var sum float32
		for inCh := 0; inCh < bundle.Channels; inCh++ {
			sum += tile[outCh][inCh] * inData[base+inCh]
		}
		outData[base+outCh] += sum
	}
}

// collectFinished scans every input stream for a control that was
// ramping as of the previous Process call and has now settled,
// emitting exactly one *Finished event per transition, in dB*10, per
// SPEC_FULL.md §4.9 step 3.
func (m *ElementaryMixer) collectFinished() {
	for _, id := range m.order {
		s := m.inputs[id]

		balNowRamping := s.balanceL.Remaining() > 0 || s.balanceR.Remaining() > 0
		if s.balanceRamping && !balNowRamping {
			m.pending = append(m.pending, FinishedEvent{Stream: id, Kind: BalanceFinished, DB10: ramp.ToDB10(s.balanceR.Value())})
		}
		s.balanceRamping = balNowRamping

		faderNowRamping := s.faderFront.Remaining() > 0 || s.faderRear.Remaining() > 0
		if s.faderRamping && !faderNowRamping {
			m.pending = append(m.pending, FinishedEvent{Stream: id, Kind: FaderFinished, DB10: ramp.ToDB10(s.faderFront.Value())})
		}
		s.faderRamping = faderNowRamping

		gainNowRamping := s.gainOffset.Remaining() > 0
		if s.gainRamping && !gainNowRamping {
			m.pending = append(m.pending, FinishedEvent{Stream: id, Kind: GainFinished, DB10: ramp.ToDB10(s.gainOffset.Value())})
		}
		s.gainRamping = gainNowRamping
	}
}
