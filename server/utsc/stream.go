package utsc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/svdleer/PyPNMGui/common/docsis"
)

// Stream frame types sent to the browser.
const (
	FrameConfig   = "config"
	FrameSpectrum = "spectrum"
	FrameProgress = "progress"
	FrameComplete = "complete"
	FrameError    = "error"
)

// StreamRequest is the first message a browser sends on /ws/utsc/stream.
type StreamRequest struct {
	CMTSIP        string  `json:"cmts_ip"`
	RFPortIfIndex int     `json:"rf_port_ifindex"`
	Community     string  `json:"community"`
	MACAddress    string  `json:"mac_address"`
	CenterFreqHz  int     `json:"center_freq_hz"`
	SpanHz        int     `json:"span_hz"`
	NumBins       int     `json:"num_bins"`
	DurationSec   int     `json:"duration_sec"`
	RefreshHz     float64 `json:"refresh_hz"`
}

// ApplyDefaults fills omitted fields.
func (r *StreamRequest) ApplyDefaults(defaultCommunity string) {
	if r.Community == "" {
		r.Community = defaultCommunity
	}
	if r.CenterFreqHz == 0 {
		r.CenterFreqHz = 30_000_000
	}
	if r.SpanHz == 0 {
		r.SpanHz = 80_000_000
	}
	if r.NumBins == 0 {
		r.NumBins = 800
	}
	if r.DurationSec == 0 {
		r.DurationSec = 120
	}
	if r.RefreshHz <= 0 {
		r.RefreshHz = 2
	}
}

// Check reports missing required fields.
func (r *StreamRequest) Check() error {
	var missing []string
	if r.CMTSIP == "" {
		missing = append(missing, "cmts_ip")
	}
	if r.RFPortIfIndex == 0 {
		missing = append(missing, "rf_port_ifindex")
	}
	if r.MACAddress == "" {
		missing = append(missing, "mac_address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if _, err := docsis.NormalizeMAC(r.MACAddress); err != nil {
		return err
	}
	return nil
}

type ConfigFrame struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	Runs           int    `json:"runs"`
	CapturesPerRun int    `json:"captures_per_run"`
	TotalCaptures  int    `json:"total_captures"`
}

type SpectrumFrame struct {
	Type      string    `json:"type"`
	Timestamp float64   `json:"timestamp"`
	Filename  string    `json:"filename"`
	Power     []float64 `json:"power"`
}

type ProgressFrame struct {
	Type      string `json:"type"`
	Run       int    `json:"run"`
	TotalRuns int    `json:"total_runs"`
	Percent   int    `json:"percent"`
	Frames    int    `json:"frames"`
}

type MessageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Controller starts and stops captures on the CMTS. Implementations go
// through PyPNM or through a jump-host agent.
type Controller interface {
	StartCapture(ctx context.Context, req StreamRequest, cfg docsis.UtscConfig) error
	StopCapture(ctx context.Context, req StreamRequest) error
}

// Files lists and reads capture files delivered by the CMTS.
type Files interface {
	List(prefix string) ([]string, error)
	Read(name string) ([]byte, error)
}

// DirFiles reads captures from a local TFTP directory.
type DirFiles string

func (d DirFiles) List(prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(string(d), prefix+"*"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	return names, nil
}

func (d DirFiles) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(string(d), filepath.Base(name)))
}

// Logger is the subset of the server logger the streamer uses.
type Logger interface {
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Debug(msg string, kv ...interface{})
}

// Streamer runs live spectrum sessions as a sequence of fixed capture
// windows.
type Streamer struct {
	Controller Controller
	Files      Files
	Logger     Logger

	// Window is the free-running duration of one capture run.
	Window time.Duration
	// Grace is extra time allowed for TFTP delivery after a window.
	Grace time.Duration
	// PollInterval is how often the capture directory is scanned.
	PollInterval time.Duration
	// SettleDelay is the pause between stopping and restarting a capture.
	SettleDelay time.Duration

	// OnFrame is called after every spectrum frame is sent.
	OnFrame func()
	now     func() time.Time
}

// NewStreamer returns a streamer with production timings.
func NewStreamer(ctrl Controller, files Files, log Logger) *Streamer {
	return &Streamer{
		Controller:   ctrl,
		Files:        files,
		Logger:       log,
		Window:       10 * time.Second,
		Grace:        10 * time.Second,
		PollInterval: 100 * time.Millisecond,
		SettleDelay:  500 * time.Millisecond,
	}
}

// Send writes one frame to the browser.
type Send func(frame interface{}) error

// Plan describes how a request is split into capture runs.
type Plan struct {
	Runs           int
	CapturesPerRun int
	TotalCaptures  int
	RepeatPeriodMs int
}

// PlanFor computes the run layout for req. At least one run is scheduled.
func (s *Streamer) PlanFor(req StreamRequest) Plan {
	windowSec := s.Window.Seconds()
	runs := int(float64(req.DurationSec) / windowSec)
	if runs < 1 {
		runs = 1
	}
	return Plan{
		Runs:           runs,
		CapturesPerRun: int(windowSec * req.RefreshHz),
		TotalCaptures:  int(float64(req.DurationSec) * req.RefreshHz),
		RepeatPeriodMs: int(1000 / req.RefreshHz),
	}
}

// Run drives a full session. Failures are reported to the browser as an
// error frame and returned.
func (s *Streamer) Run(ctx context.Context, req StreamRequest, send Send) error {
	sessionID := uuid.NewString()
	plan := s.PlanFor(req)
	macHex := docsis.MACHex(req.MACAddress)

	s.logInfo("UTSC stream started", "session_id", sessionID, "cmts_ip", req.CMTSIP, "rf_port", req.RFPortIfIndex, "runs", plan.Runs, "refresh_hz", req.RefreshHz)

	if err := send(ConfigFrame{Type: FrameConfig, SessionID: sessionID, Runs: plan.Runs, CapturesPerRun: plan.CapturesPerRun, TotalCaptures: plan.TotalCaptures}); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(req.RefreshHz), 1)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Controller.StopCapture(stopCtx, req); err != nil {
			s.logDebug("UTSC stop after stream failed", "session_id", sessionID, "error", err)
		}
	}()

	total := 0
	lastRunID := int64(0)
	for run := 0; run < plan.Runs; run++ {
		runID := s.clock().Unix()
		if runID <= lastRunID {
			runID = lastRunID + 1
		}
		lastRunID = runID
		prefix := fmt.Sprintf("stream_%s_%d", strings.ToLower(macHex), runID)

		if err := s.startRun(ctx, req, plan, prefix); err != nil {
			s.logWarn("UTSC run failed to start", "session_id", sessionID, "run", run, "error", err)
			msg := fmt.Sprintf("Failed to start UTSC run %d: %v", run, err)
			send(MessageFrame{Type: FrameError, Message: msg})
			return errors.New(msg)
		}

		n, err := s.streamFiles(ctx, prefix, req.NumBins, plan.CapturesPerRun, limiter, send)
		total += n
		if err != nil {
			if ctx.Err() == nil {
				send(MessageFrame{Type: FrameError, Message: err.Error()})
			}
			return err
		}
		s.logDebug("UTSC run finished", "session_id", sessionID, "run", run+1, "frames", n, "prefix", prefix)

		if err := send(ProgressFrame{
			Type:      FrameProgress,
			Run:       run + 1,
			TotalRuns: plan.Runs,
			Percent:   (run + 1) * 100 / plan.Runs,
			Frames:    total,
		}); err != nil {
			return err
		}
	}

	s.logInfo("UTSC stream complete", "session_id", sessionID, "runs", plan.Runs, "frames", total)
	return send(MessageFrame{Type: FrameComplete, Message: fmt.Sprintf("Streaming complete: %d runs", plan.Runs)})
}

func (s *Streamer) startRun(ctx context.Context, req StreamRequest, plan Plan, prefix string) error {
	if err := s.Controller.StopCapture(ctx, req); err != nil {
		s.logDebug("UTSC stop before run failed", "error", err)
	}
	if err := sleepCtx(ctx, s.SettleDelay); err != nil {
		return err
	}

	cfg := docsis.DefaultUtscConfig()
	cfg.RFPortIfIndex = req.RFPortIfIndex
	cfg.CenterFreqHz = req.CenterFreqHz
	cfg.SpanHz = req.SpanHz
	cfg.NumBins = req.NumBins
	cfg.Filename = prefix
	cfg.RepeatPeriodMs = plan.RepeatPeriodMs
	cfg.FreeRunDurMs = int(s.Window / time.Millisecond)
	return s.Controller.StartCapture(ctx, req, cfg)
}

// streamFiles forwards new capture files until expected frames were sent
// or the window plus grace elapses. Files that do not parse yet are
// retried on the next scan since TFTP may still be writing them.
func (s *Streamer) streamFiles(ctx context.Context, prefix string, numBins, expected int, limiter *rate.Limiter, send Send) (int, error) {
	deadline := time.NewTimer(s.Window + s.Grace)
	defer deadline.Stop()
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	sent := make(map[string]bool)
	for {
		names, err := s.Files.List(prefix)
		if err != nil {
			s.logWarn("Listing capture files failed", "prefix", prefix, "error", err)
		}
		sort.Strings(names)
		for _, name := range names {
			if sent[name] {
				continue
			}
			data, err := s.Files.Read(name)
			if err != nil {
				continue
			}
			power, err := ParseSpectrumFile(data, numBins)
			if err != nil {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return len(sent), err
			}
			if err := send(SpectrumFrame{Type: FrameSpectrum, Timestamp: float64(s.clock().UnixNano()) / 1e9, Filename: name, Power: power}); err != nil {
				return len(sent), err
			}
			sent[name] = true
			if s.OnFrame != nil {
				s.OnFrame()
			}
		}
		if expected > 0 && len(sent) >= expected {
			return len(sent), nil
		}

		select {
		case <-ctx.Done():
			return len(sent), ctx.Err()
		case <-deadline.C:
			return len(sent), nil
		case <-ticker.C:
		}
	}
}

func (s *Streamer) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Streamer) logInfo(msg string, kv ...interface{}) {
	if s.Logger != nil {
		s.Logger.Info(msg, kv...)
	}
}

func (s *Streamer) logWarn(msg string, kv ...interface{}) {
	if s.Logger != nil {
		s.Logger.Warn(msg, kv...)
	}
}

func (s *Streamer) logDebug(msg string, kv ...interface{}) {
	if s.Logger != nil {
		s.Logger.Debug(msg, kv...)
	}
}
