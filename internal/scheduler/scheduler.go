// Package scheduler injects synthetic messages into the processing handler:
// a fixed-interval heartbeat plus independently scheduled cron jobs and
// reminders. It shares the opaque handler with the admission pipeline but
// bypasses the queue; results are pushed to channels through a Notifier.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
)

const (
	// HeartbeatOK is the handler response (after trim + uppercase) that
	// suppresses heartbeat notification.
	HeartbeatOK = "HEARTBEAT_OK"

	heartbeatMessage = "HEARTBEAT"

	// MainSessionID is the shared session used by jobs with SessionMode
	// "main" — their runs carry conversational context.
	MainSessionID = "main"
)

// SessionMode controls which session a cron job's handler call uses.
type SessionMode string

const (
	// SessionIsolated gives each firing a fresh "cron:<jobID>:<ts>" session.
	SessionIsolated SessionMode = "isolated"
	// SessionMain routes every firing through the shared main session.
	SessionMain SessionMode = "main"
)

// RunResult is what the handler returns for a synthetic message.
type RunResult struct {
	Text   string
	Notify bool
}

// RunFunc is the shared processing handler for synthetic messages.
type RunFunc func(ctx context.Context, message, sessionID string, meta map[string]string) (RunResult, error)

// Job is one scheduled synthetic message.
type Job struct {
	ID            string      `json:"id"`
	Name          string      `json:"name,omitempty"`
	Schedule      string      `json:"schedule"`
	Message       string      `json:"message"`
	SessionMode   SessionMode `json:"sessionMode"`
	ChannelTarget string      `json:"channelTarget,omitempty"`
	OneShot       bool        `json:"oneShot"`
	Paused        bool        `json:"paused"`
	NextRun       time.Time   `json:"nextRun"`
	CreatedAt     time.Time   `json:"createdAt"`

	parsed schedule
	timer  *time.Timer
}

// JobSpec is the caller-facing description of a job to add.
type JobSpec struct {
	Name          string
	Schedule      string
	Message       string
	SessionMode   SessionMode
	ChannelTarget string
	OneShot       bool
}

// Config tunes the scheduler.
type Config struct {
	// HeartbeatInterval in minutes; 0 disables the heartbeat.
	HeartbeatInterval int
	// HeartbeatTarget is the channel target for heartbeat notifications
	// (empty uses the notifier's default).
	HeartbeatTarget string
}

// Scheduler owns the heartbeat timer and the job map. Job firings run on
// timer goroutines; all map mutation happens under mu. Per-firing errors
// are logged and never alter job state or other jobs.
type Scheduler struct {
	cfg    Config
	run    RunFunc
	notify bus.Notifier

	mu              sync.Mutex
	jobs            map[string]*Job
	heartbeatTicker *time.Ticker
	heartbeatStop   chan struct{}
	heartbeatPaused bool
	stopped         bool
}

// New wires a scheduler. notify may be nil when no delivery channel exists
// (results are then logged only).
func New(cfg Config, run RunFunc, notify bus.Notifier) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		run:    run,
		notify: notify,
		jobs:   make(map[string]*Job),
	}
}

// Start launches the heartbeat if configured. Jobs schedule themselves as
// they are added.
func (s *Scheduler) Start() {
	if s.cfg.HeartbeatInterval <= 0 {
		slog.Info("heartbeat disabled")
		return
	}
	interval := time.Duration(s.cfg.HeartbeatInterval) * time.Minute

	s.mu.Lock()
	s.heartbeatTicker = time.NewTicker(interval)
	s.heartbeatStop = make(chan struct{})
	ticker, stop := s.heartbeatTicker, s.heartbeatStop
	s.mu.Unlock()

	slog.Info("heartbeat started", "interval", interval)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				paused := s.heartbeatPaused
				s.mu.Unlock()
				if !paused {
					s.fireHeartbeat()
				}
			}
		}
	}()
}

// Stop cancels the heartbeat and every job timer. In-flight firings run to
// completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.heartbeatTicker != nil {
		s.heartbeatTicker.Stop()
		close(s.heartbeatStop)
		s.heartbeatTicker = nil
	}
	for _, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
}

// PauseHeartbeat suspends heartbeat firings without stopping the ticker.
func (s *Scheduler) PauseHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatPaused = true
}

// ResumeHeartbeat re-enables heartbeat firings.
func (s *Scheduler) ResumeHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatPaused = false
}

func (s *Scheduler) fireHeartbeat() {
	// Runs on the ticker goroutine: a panicking handler must not take the
	// process (and every job timer) down with it.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("heartbeat handler panicked", "panic", r)
		}
	}()

	ctx := context.Background()
	sessionID := fmt.Sprintf("heartbeat:%d", time.Now().Unix())

	res, err := s.run(ctx, heartbeatMessage, sessionID, map[string]string{"kind": "heartbeat"})
	if err != nil {
		slog.Error("heartbeat handler failed", "error", err)
		return
	}

	normalized := strings.ToUpper(strings.TrimSpace(res.Text))
	if normalized == HeartbeatOK || strings.Contains(normalized, HeartbeatOK) {
		slog.Debug("heartbeat ok")
		return
	}
	if !res.Notify || s.notify == nil {
		return
	}
	if err := s.notify(ctx, s.cfg.HeartbeatTarget, res.Text); err != nil {
		slog.Error("heartbeat notify failed", "error", err)
	}
}

// AddJob parses the schedule, computes the first run, and arms the timer.
func (s *Scheduler) AddJob(spec JobSpec) (*Job, error) {
	parsed, err := parseSchedule(spec.Schedule)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	next, err := parsed.next(now)
	if err != nil {
		return nil, fmt.Errorf("compute next run: %w", err)
	}

	mode := spec.SessionMode
	if mode == "" {
		mode = SessionIsolated
	}

	job := &Job{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Name:          spec.Name,
		Schedule:      spec.Schedule,
		Message:       spec.Message,
		SessionMode:   mode,
		ChannelTarget: spec.ChannelTarget,
		OneShot:       spec.OneShot,
		NextRun:       next,
		CreatedAt:     now,
		parsed:        parsed,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("scheduler stopped")
	}
	s.jobs[job.ID] = job
	s.armLocked(job)

	slog.Info("cron job added", "id", job.ID, "name", job.Name,
		"schedule", job.Schedule, "next_run", job.NextRun, "one_shot", job.OneShot)
	return job, nil
}

// AddReminder creates a one-shot job firing after the given offset with a
// synthetic reminder message.
func (s *Scheduler) AddReminder(after time.Duration, text, channelTarget string) (*Job, error) {
	if after <= 0 {
		return nil, fmt.Errorf("reminder offset must be positive")
	}
	secs := int(after.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return s.AddJob(JobSpec{
		Name:          "reminder",
		Schedule:      fmt.Sprintf("in %d seconds", secs),
		Message:       "⏰ Reminder: " + text,
		SessionMode:   SessionIsolated,
		ChannelTarget: channelTarget,
		OneShot:       true,
	})
}

// RemoveJob cancels and deletes a job. Returns false if the id is unknown.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) bool {
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if job.timer != nil {
		job.timer.Stop()
		job.timer = nil
	}
	delete(s.jobs, id)
	return true
}

// PauseJob cancels the job's timer, keeping its metadata. Returns false if
// the id is unknown.
func (s *Scheduler) PauseJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if job.timer != nil {
		job.timer.Stop()
		job.timer = nil
	}
	job.Paused = true
	slog.Info("cron job paused", "id", id)
	return true
}

// ResumeJob recomputes the next run and re-arms the timer. Returns false if
// the id is unknown.
func (s *Scheduler) ResumeJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if !job.Paused {
		return true
	}
	job.Paused = false
	next, err := job.parsed.next(time.Now())
	if err != nil {
		slog.Error("resume: next run computation failed", "id", id, "error", err)
		return false
	}
	job.NextRun = next
	s.armLocked(job)
	slog.Info("cron job resumed", "id", id, "next_run", next)
	return true
}

// GetJob returns a copy of the job, or nil if unknown.
func (s *Scheduler) GetJob(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	cp.timer = nil
	return &cp
}

// ListJobs returns copies of all jobs ordered by next run.
func (s *Scheduler) ListJobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		cp.timer = nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// armLocked arms the job's timer for job.NextRun. Caller holds mu.
func (s *Scheduler) armLocked(job *Job) {
	if s.stopped || job.Paused {
		return
	}
	delay := time.Until(job.NextRun)
	if delay < 0 {
		delay = 0
	}
	id := job.ID
	job.timer = time.AfterFunc(delay, func() { s.fireJob(id) })
}

// fireJob runs one firing on the timer goroutine. Handler and notifier
// errors are logged and suppressed; they never remove, pause, or reschedule
// differently than success does.
func (s *Scheduler) fireJob(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Paused || s.stopped {
		s.mu.Unlock()
		return
	}
	message := job.Message
	mode := job.SessionMode
	target := job.ChannelTarget
	name := job.Name

	// One-shot jobs self-remove before the handler runs, so a concurrent
	// ListJobs never sees a fired one-shot.
	if job.OneShot {
		s.removeLocked(id)
	} else {
		next, err := job.parsed.next(time.Now())
		if err != nil {
			slog.Error("cron job reschedule failed", "id", id, "error", err)
			s.removeLocked(id)
		} else {
			job.NextRun = next
			s.armLocked(job)
		}
	}
	s.mu.Unlock()

	// Runs on the timer goroutine: a panicking handler fails this firing
	// only. The reschedule above already happened, so the job fires again.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cron job handler panicked", "id", id, "name", name, "panic", r)
		}
	}()

	ctx := context.Background()
	sessionID := MainSessionID
	if mode != SessionMain {
		sessionID = fmt.Sprintf("cron:%s:%d", id, time.Now().Unix())
	}

	slog.Info("cron job firing", "id", id, "name", name, "session", sessionID)
	res, err := s.run(ctx, message, sessionID, map[string]string{"kind": "cron", "job_id": id})
	if err != nil {
		slog.Error("cron job handler failed", "id", id, "name", name, "error", err)
		return
	}
	if !res.Notify || s.notify == nil {
		return
	}
	if err := s.notify(ctx, target, res.Text); err != nil {
		slog.Error("cron job notify failed", "id", id, "name", name, "error", err)
	}
}
