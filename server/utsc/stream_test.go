package utsc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/svdleer/PyPNMGui/common/docsis"
)

// fakeCMTS writes capture files into dir whenever a capture starts.
type fakeCMTS struct {
	dir      string
	files    int
	startErr error

	mu     sync.Mutex
	starts []docsis.UtscConfig
	stops  int
}

func (f *fakeCMTS) StartCapture(_ context.Context, _ StreamRequest, cfg docsis.UtscConfig) error {
	f.mu.Lock()
	f.starts = append(f.starts, cfg)
	f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	values := make([]int16, cfg.NumBins)
	for i := range values {
		values[i] = int16(-300 + i)
	}
	for i := 0; i < f.files; i++ {
		name := filepath.Join(f.dir, fmt.Sprintf("%s_%04d", cfg.Filename, i))
		if err := os.WriteFile(name, spectrumFile(values...), 0o644); err != nil {
			return err
		}
	}
	// A partial file that never becomes valid must not be sent.
	return os.WriteFile(filepath.Join(f.dir, cfg.Filename+"_partial"), make([]byte, 10), 0o644)
}

func (f *fakeCMTS) StopCapture(context.Context, StreamRequest) error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

type frameLog struct {
	mu     sync.Mutex
	frames []interface{}
}

func (l *frameLog) send(v interface{}) error {
	l.mu.Lock()
	l.frames = append(l.frames, v)
	l.mu.Unlock()
	return nil
}

func (l *frameLog) ofType(kind string) []interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []interface{}
	for _, f := range l.frames {
		switch v := f.(type) {
		case ConfigFrame:
			if kind == FrameConfig {
				out = append(out, v)
			}
		case SpectrumFrame:
			if kind == FrameSpectrum {
				out = append(out, v)
			}
		case ProgressFrame:
			if kind == FrameProgress {
				out = append(out, v)
			}
		case MessageFrame:
			if v.Type == kind {
				out = append(out, v)
			}
		}
	}
	return out
}

func testStreamer(ctrl Controller, dir string) *Streamer {
	s := NewStreamer(ctrl, DirFiles(dir), nil)
	s.Window = 500 * time.Millisecond
	s.Grace = 300 * time.Millisecond
	s.PollInterval = 10 * time.Millisecond
	s.SettleDelay = 0
	return s
}

func streamRequest() StreamRequest {
	req := StreamRequest{CMTSIP: "10.0.0.1", RFPortIfIndex: 1074339840, MACAddress: "AA:BB:CC:DD:EE:FF", NumBins: 16, DurationSec: 1, RefreshHz: 20}
	req.ApplyDefaults("private")
	return req
}

func TestStreamRunsAndCompletes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cmts := &fakeCMTS{dir: dir, files: 10}
	s := testStreamer(cmts, dir)
	var frames int
	s.OnFrame = func() { frames++ }

	log := &frameLog{}
	if err := s.Run(context.Background(), streamRequest(), log.send); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg := log.ofType(FrameConfig)
	if len(cfg) != 1 {
		t.Fatalf("config frames = %d", len(cfg))
	}
	c := cfg[0].(ConfigFrame)
	if c.Runs != 2 || c.CapturesPerRun != 10 || c.TotalCaptures != 20 || c.SessionID == "" {
		t.Errorf("config = %+v", c)
	}

	spectra := log.ofType(FrameSpectrum)
	if len(spectra) != 20 || frames != 20 {
		t.Fatalf("spectrum frames = %d (OnFrame %d)", len(spectra), frames)
	}
	first := spectra[0].(SpectrumFrame)
	if len(first.Power) != 16 || first.Power[0] != -30 || !strings.HasPrefix(first.Filename, "stream_aabbccddeeff_") {
		t.Errorf("first frame = %+v", first)
	}

	progress := log.ofType(FrameProgress)
	if len(progress) != 2 || progress[0].(ProgressFrame).Percent != 50 || progress[1].(ProgressFrame).Percent != 100 {
		t.Errorf("progress = %+v", progress)
	}
	done := log.ofType(FrameComplete)
	if len(done) != 1 || done[0].(MessageFrame).Message != "Streaming complete: 2 runs" {
		t.Errorf("complete = %+v", done)
	}

	cmts.mu.Lock()
	defer cmts.mu.Unlock()
	if len(cmts.starts) != 2 || cmts.stops != 3 {
		t.Errorf("starts=%d stops=%d", len(cmts.starts), cmts.stops)
	}
	st := cmts.starts[0]
	if st.TriggerMode != docsis.TriggerFreeRunning || st.RepeatPeriodMs != 50 || st.FreeRunDurMs != 500 || st.NumBins != 16 {
		t.Errorf("capture config = %+v", st)
	}
	if cmts.starts[0].Filename == cmts.starts[1].Filename {
		t.Error("each run needs its own filename prefix")
	}
}

func TestStreamWindowTimeout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := testStreamer(&fakeCMTS{dir: dir, files: 3}, dir)
	req := streamRequest()
	req.DurationSec = 1
	s.Window = time.Second

	log := &frameLog{}
	start := time.Now()
	if err := s.Run(context.Background(), req, log.send); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < s.Window+s.Grace {
		t.Error("run should wait for the window plus grace when files are missing")
	}
	if n := len(log.ofType(FrameSpectrum)); n != 3 {
		t.Errorf("spectrum frames = %d", n)
	}
}

func TestStreamStartFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := testStreamer(&fakeCMTS{dir: dir, startErr: errors.New("snmp set rejected")}, dir)
	log := &frameLog{}
	err := s.Run(context.Background(), streamRequest(), log.send)
	if err == nil {
		t.Fatal("expected error")
	}
	errs := log.ofType(FrameError)
	if len(errs) != 1 || errs[0].(MessageFrame).Message != "Failed to start UTSC run 0: snmp set rejected" {
		t.Errorf("error frames = %+v", errs)
	}
	if len(log.ofType(FrameComplete)) != 0 {
		t.Error("no complete frame after failure")
	}
}

func TestStreamCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := testStreamer(&fakeCMTS{dir: dir}, dir)
	s.Window = 10 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx, streamRequest(), (&frameLog{}).send); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamRequestCheck(t *testing.T) {
	t.Parallel()

	var r StreamRequest
	if err := r.Check(); err == nil || !strings.Contains(err.Error(), "cmts_ip, rf_port_ifindex, mac_address") {
		t.Errorf("err = %v", err)
	}
	r = streamRequest()
	if err := r.Check(); err != nil {
		t.Errorf("valid request: %v", err)
	}
	if r.CenterFreqHz != 30_000_000 || r.SpanHz != 80_000_000 || r.Community != "private" {
		t.Errorf("defaults = %+v", r)
	}
}
