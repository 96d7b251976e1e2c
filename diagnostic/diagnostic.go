// Package diagnostic records per-period ASRC/device timing tuples for a
// single audio device to a binary log file, for offline analysis of
// clock-drift and buffer-fill behaviour.
//
// A stream runs a small state machine (Idle/Opening/Started/PendingClose/
// Closing/PendingOpen) so that Start and Stop calls arriving while a file
// is still being opened or closed are queued rather than raced against the
// open/close worker goroutines.
package diagnostic

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iasaudio/bar/barerr"
)

// entrySize is the width in bytes of one binary timing tuple: two u64
// timestamps, two u64 frame counts, two u32 counters and one f32 ratio.
const entrySize = 44

// maxEntriesPerMsg is the hard clamp on how many entries are grouped into
// one dispatch chunk, preserved from the source this was distilled from.
const maxEntriesPerMsg = 18

// maxReadBufferBytes is the nominal cap named in configuration. The actual
// clamp expression below does not enforce it as a ceiling; see
// clampReadBufferBytes.
const maxReadBufferBytes = 1024

const autoStopAfter = time.Hour

// State is a diagnostic stream's position in its open/close lifecycle.
type State int

const (
	Idle State = iota
	Opening
	Started
	PendingClose
	Closing
	PendingOpen
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Started:
		return "started"
	case PendingClose:
		return "pending_close"
	case Closing:
		return "closing"
	case PendingOpen:
		return "pending_open"
	default:
		return "unknown"
	}
}

type event int

const (
	evStart event = iota
	evStop
	evOpeningFinished
	evClosingFinished
)

// transitions is the literal state table from the device's diagnostic
// stream lifecycle. A second Start observed while Opening maps back onto
// Opening: deliberately idempotent, not an error.
var transitions = map[State]map[event]State{
	Idle: {
		evStart: Opening,
	},
	Opening: {
		evOpeningFinished: Started,
		evStop:            PendingClose,
		evStart:           Opening,
	},
	Started: {
		evStop: Closing,
	},
	PendingClose: {
		evOpeningFinished: Closing,
	},
	Closing: {
		evClosingFinished: Idle,
		evStart:           PendingOpen,
	},
	PendingOpen: {
		evClosingFinished: Opening,
		evStop:            PendingClose,
	},
}

// Config configures a diagnostic stream. BytesPerPeriod and the two
// Requested* fields are clamped by NewStream; see clampReadBufferBytes and
// clampEntriesPerMsg.
type Config struct {
	DeviceName     string
	TempDir        string
	CopyTo         string
	ErrorThreshold int

	BytesPerPeriod int

	RequestedEntriesPerMsg   int
	RequestedReadBufferBytes int

	LogPeriod time.Duration

	RotateMaxSizeMB int
	RotateMaxAgeDays int
	RotateMaxBackups int
}

// clampEntriesPerMsg enforces the fixed ceiling on entries grouped into one
// dispatch chunk.
func clampEntriesPerMsg(requested int) int {
	if requested <= 0 || requested > maxEntriesPerMsg {
		return maxEntriesPerMsg
	}
	return requested
}

// clampReadBufferBytes mirrors, byte for byte, the rounding expression this
// was distilled from: rather than capping the configured size to 1024
// bytes, it recomputes (1024/bytesPerPeriod)*1024, which exceeds 1024
// whenever bytesPerPeriod < 1024. Preserved as specified; not "fixed".
func clampReadBufferBytes(requested, bytesPerPeriod int) int {
	if requested <= maxReadBufferBytes {
		if requested <= 0 {
			return maxReadBufferBytes
		}
		return requested
	}
	if bytesPerPeriod <= 0 {
		return maxReadBufferBytes
	}
	return (maxReadBufferBytes / bytesPerPeriod) * maxReadBufferBytes
}

// Entry is one timing tuple recorded once per sink period.
type Entry struct {
	DeviceTsUs    uint64
	DeviceFrames  uint64
	AsrcTsUs      uint64
	AsrcFrames    uint64
	AsrcFill      uint32
	TotalFrames   uint32
	AdaptiveRatio float32
}

// marshal encodes e into the fixed 44-byte little-endian wire layout.
func (e Entry) marshal() []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.DeviceTsUs)
	binary.LittleEndian.PutUint64(buf[8:16], e.DeviceFrames)
	binary.LittleEndian.PutUint64(buf[16:24], e.AsrcTsUs)
	binary.LittleEndian.PutUint64(buf[24:32], e.AsrcFrames)
	binary.LittleEndian.PutUint32(buf[32:36], e.AsrcFill)
	binary.LittleEndian.PutUint32(buf[36:40], e.TotalFrames)
	binary.LittleEndian.PutUint32(buf[40:44], math.Float32bits(e.AdaptiveRatio))
	return buf
}

// UnmarshalEntry decodes one 44-byte tuple, for tests and offline readers.
func UnmarshalEntry(b []byte) (Entry, error) {
	if len(b) != entrySize {
		return Entry{}, barerr.New(barerr.InvalidParam, "diagnostic.UnmarshalEntry", nil)
	}
	return Entry{
		DeviceTsUs:    binary.LittleEndian.Uint64(b[0:8]),
		DeviceFrames:  binary.LittleEndian.Uint64(b[8:16]),
		AsrcTsUs:      binary.LittleEndian.Uint64(b[16:24]),
		AsrcFrames:    binary.LittleEndian.Uint64(b[24:32]),
		AsrcFill:      binary.LittleEndian.Uint32(b[32:36]),
		TotalFrames:   binary.LittleEndian.Uint32(b[36:40]),
		AdaptiveRatio: math.Float32frombits(binary.LittleEndian.Uint32(b[40:44])),
	}, nil
}

// fileName builds the <HH:MM:SS>_<deviceName>_asrc_diag_<idx>.bin name,
// with any comma replaced by an underscore (a filesystem-safety quirk
// preserved from the naming convention this was distilled from).
func fileName(deviceName string, idx int, now time.Time) string {
	name := now.Format("15:04:05") + "_" + deviceName + "_asrc_diag_" + strconv.Itoa(idx) + ".bin"
	return strings.ReplaceAll(name, ",", "_")
}

// Stream is one device's diagnostic recording session.
type Stream struct {
	cfg    Config
	l      logging.Logger
	dispatchTo io.Writer

	mu            sync.Mutex
	state         State
	nextIdx       int
	file          io.WriteCloser
	path          string
	autoStopTimer *time.Timer

	errCount int32

	entries *pool.Buffer
	wg      sync.WaitGroup
}

// NewStream builds a diagnostic stream in the Idle state. dispatchTo, if
// non-nil, is the process-wide log-writer destination entries are mirrored
// to in addition to the per-session file (see File rotation & dispatch).
func NewStream(cfg Config, l logging.Logger, dispatchTo io.Writer) *Stream {
	cfg.RequestedEntriesPerMsg = clampEntriesPerMsg(cfg.RequestedEntriesPerMsg)
	cfg.RequestedReadBufferBytes = clampReadBufferBytes(cfg.RequestedReadBufferBytes, cfg.BytesPerPeriod)
	if cfg.LogPeriod <= 0 {
		cfg.LogPeriod = 20 * time.Millisecond
	}
	return &Stream{cfg: cfg, l: l, dispatchTo: dispatchTo, state: Idle}
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins opening a new diagnostic file. A second Start while already
// Opening is ignored, per the lifecycle table.
func (s *Stream) Start() error {
	return s.handle(evStart)
}

// Stop begins closing the current diagnostic file, if any.
func (s *Stream) Stop() {
	_ = s.handle(evStop)
}

// ErrorOccurred records one error observation against the stream's error
// counter, consulted when the file is closed to decide whether to copy it
// to the configured destination instead of discarding it.
func (s *Stream) ErrorOccurred() {
	atomic.AddInt32(&s.errCount, 1)
}

// Record appends one timing tuple. Called from the audio period loop: it
// must not block or allocate beyond the fixed-size encode, so it only
// enqueues into the lock-free dispatch buffer and silently drops the entry
// if the stream isn't Started or the buffer has no room.
func (s *Stream) Record(e Entry) {
	s.mu.Lock()
	entries := s.entries
	started := s.state == Started
	s.mu.Unlock()
	if !started || entries == nil {
		return
	}
	b := e.marshal()
	if _, err := entries.Write(b); err != nil && s.l != nil {
		s.l.Debug("diagnostic: entry dropped", "device", s.cfg.DeviceName, "error", err.Error())
	}
}

func (s *Stream) handle(e event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleLocked(e)
}

func (s *Stream) handleLocked(e event) error {
	next, ok := transitions[s.state][e]
	if !ok {
		return barerr.New(barerr.WrongState, "diagnostic.Stream", nil)
	}
	prev := s.state
	s.state = next

	if prev == Started && next != Started {
		if s.autoStopTimer != nil {
			s.autoStopTimer.Stop()
			s.autoStopTimer = nil
		}
	}
	if next == Started {
		s.autoStopTimer = time.AfterFunc(autoStopAfter, func() { _ = s.handle(evStop) })
	}

	switch {
	case next == Opening && prev != Opening:
		s.wg.Add(1)
		go s.openWorker()
	case next == Closing && prev != Closing:
		s.wg.Add(1)
		go s.closeWorker()
	}
	return nil
}

// Wait blocks until any in-flight open/close worker for this stream has
// finished. Intended for tests; production callers observe completion
// through State transitions instead.
func (s *Stream) Wait() {
	s.wg.Wait()
}

func (s *Stream) openWorker() {
	defer s.wg.Done()

	s.mu.Lock()
	idx := s.nextIdx
	s.nextIdx++
	elementSize := s.cfg.RequestedEntriesPerMsg * entrySize
	numElements := s.cfg.RequestedReadBufferBytes / elementSize
	if numElements < 1 {
		numElements = 1
	}
	logPeriod := s.cfg.LogPeriod
	deviceName := s.cfg.DeviceName
	tempDir := s.cfg.TempDir
	rotateSize := s.cfg.RotateMaxSizeMB
	if rotateSize <= 0 {
		rotateSize = 10
	}
	s.mu.Unlock()

	name := fileName(deviceName, idx, time.Now())
	path := filepath.Join(tempDir, name)

	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotateSize,
		MaxAge:     s.cfg.RotateMaxAgeDays,
		MaxBackups: s.cfg.RotateMaxBackups,
	}
	// lumberjack opens lazily on first Write; force the file into
	// existence now so a Stop immediately after Start still leaves a
	// file to remove or copy.
	openErr := f.Rotate()

	entries := pool.NewBuffer(numElements, elementSize, logPeriod)
	pool.MaxAlloc(elementSize * numElements * 2)

	s.mu.Lock()
	if openErr != nil {
		s.file = nil
		s.path = ""
		s.entries = nil
	} else {
		s.file = f
		s.path = path
		s.entries = entries
		atomic.StoreInt32(&s.errCount, 0)
	}
	s.mu.Unlock()

	if openErr != nil {
		if s.l != nil {
			s.l.Error("diagnostic: open failed", "device", deviceName, "error", openErr.Error())
		}
		_ = s.handle(evOpeningFinished)
		return
	}

	s.wg.Add(1)
	go s.dispatchLoop(f, entries)

	_ = s.handle(evOpeningFinished)
}

// dispatchLoop drains the entry buffer in entries-per-msg-sized chunks and
// writes each chunk to the session file and, if configured, the
// process-wide log-writer destination. It exits once the buffer starts
// returning anything other than a timeout, which openWorker's sibling
// closeWorker arranges by flushing and discarding the buffer reference.
func (s *Stream) dispatchLoop(f io.Writer, entries *pool.Buffer) {
	defer s.wg.Done()
	for {
		chunk, err := entries.Next(100 * time.Millisecond)
		switch err {
		case nil:
			b := chunk.Bytes()
			if len(b) == 0 {
				continue
			}
			if _, werr := f.Write(b); werr != nil && s.l != nil {
				s.l.Error("diagnostic: write failed", "device", s.cfg.DeviceName, "error", werr.Error())
			}
			if s.dispatchTo != nil {
				_, _ = s.dispatchTo.Write(b)
			}
		case pool.ErrTimeout:
			s.mu.Lock()
			live := s.entries == entries
			s.mu.Unlock()
			if !live {
				return
			}
		default:
			return
		}
	}
}

func (s *Stream) closeWorker() {
	defer s.wg.Done()

	s.mu.Lock()
	f := s.file
	path := s.path
	s.entries = nil // signals dispatchLoop to exit once it next times out
	errs := atomic.LoadInt32(&s.errCount)
	threshold := s.cfg.ErrorThreshold
	copyTo := s.cfg.CopyTo
	s.mu.Unlock()

	if f != nil {
		_ = f.Close()
		if threshold > 0 && int(errs) >= threshold && copyTo != "" {
			dst := filepath.Join(copyTo, filepath.Base(path))
			if err := copyFile(path, dst); err != nil && s.l != nil {
				s.l.Error("diagnostic: copy to destination failed", "device", s.cfg.DeviceName, "error", err.Error())
			}
		}
		_ = os.Remove(path)
	}

	s.mu.Lock()
	s.file = nil
	s.path = ""
	s.mu.Unlock()

	_ = s.handle(evClosingFinished)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// NewRotatingWriter builds the process-wide log-writer destination, rotated
// by size and age, that diagnostic streams mirror dispatched chunks into.
func NewRotatingWriter(path string, maxSizeMB, maxAgeDays, maxBackups int) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
	}
}
