package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/radarzone/companion/internal/session"
	"github.com/radarzone/companion/pkg/core"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger     *slog.Logger
	Snapshot   func() session.Snapshot
	Pending    func() int // queued telemetry points, optional
	StatusFile string     // optional
	Interval   time.Duration
}

// Status is one point-in-time summary of the client.
type Status struct {
	Time          time.Time `json:"time"`
	Connection    string    `json:"connection"`
	Failures      int       `json:"failures"`
	RetryDelay    string    `json:"retryDelay,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitzero"`
	Zones         int       `json:"zones"`
	Deleting      int       `json:"deleting"`
	Targets       int       `json:"targets"`
	ActiveZones   []string  `json:"activeZones"`
	FallAlert     bool      `json:"fallAlert"`
	LastError     string    `json:"lastError,omitempty"`
	PendingPoints int       `json:"pendingPoints"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus summarises the current session.
func (s *Service) GetStatus(now time.Time) Status {
	snap := s.deps.Snapshot()
	st := Status{
		Time:          now,
		Connection:    snap.Connection.State.String(),
		Failures:      snap.Connection.Failures,
		LastMessageAt: snap.Connection.LastMessageAt,
		Zones:         len(snap.Zones),
		Deleting:      len(snap.Deleting),
		Targets:       len(snap.Targets),
		ActiveZones:   make([]string, 0, len(snap.Active)),
		FallAlert:     snap.FallAlert != nil,
		LastError:     snap.LastError,
	}
	if snap.Connection.State == core.Reconnecting {
		st.RetryDelay = snap.Connection.RetryDelay.String()
	}
	for id := range snap.Active {
		st.ActiveZones = append(st.ActiveZones, id)
	}
	sort.Strings(st.ActiveZones)
	if s.deps.Pending != nil {
		st.PendingPoints = s.deps.Pending()
	}
	return st
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	var statusFile *os.File
	if s.deps.StatusFile != "" {
		f, err := os.Create(s.deps.StatusFile)
		if err != nil {
			s.deps.Logger.Error("Error creating status file", "error", err)
		} else {
			statusFile = f
		}
	}

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		if statusFile != nil {
			defer statusFile.Close()
		}

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				st := s.GetStatus(now)
				logger.Debug("Status",
					"connection", st.Connection,
					"failures", st.Failures,
					"zones", st.Zones,
					"targets", st.Targets,
					"active", st.ActiveZones,
				)
				if statusFile != nil {
					s.writeStatus(statusFile, st)
				}
			}
		}
	}()

	return nil
}

func (s *Service) writeStatus(f *os.File, st Status) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.deps.Logger.Error("Error encoding status", "error", err)
		return
	}
	if err := f.Truncate(0); err != nil {
		s.deps.Logger.Error("Error truncating status file", "error", err)
		return
	}
	if _, err := f.WriteAt(append(data, '\n'), 0); err != nil {
		s.deps.Logger.Error("Error writing status file", "error", err)
	}
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
