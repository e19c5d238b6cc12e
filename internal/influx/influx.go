// Package influx records occupancy transitions and fall alerts as InfluxDB
// points. When the server is unreachable points go to a gzipped line
// protocol backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/radarzone/companion/internal/occupancy"
	"github.com/radarzone/companion/internal/queue"
	"github.com/radarzone/companion/pkg/core"
)

const (
	MeasurementOccupancy = "zone_occupancy"
	MeasurementFall      = "fall_event"

	retention = 60 * 60 * 24 * 90 // 90 days

	// maxPending bounds memory while the writer is unavailable.
	maxPending = 10000
)

// ErrDisabled is returned by Connect when the sink is not enabled.
var ErrDisabled = errors.New("influx sink disabled")

// Config configures the sink.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	FlushInterval time.Duration
	BackupPath    string
}

// PointWriter is the subset of the InfluxDB write API the sink needs.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point)
	Flush()
}

// Sink implements session.Observer. Callbacks only enqueue; Run drains the
// queue on FlushInterval.
type Sink struct {
	cfg      Config
	logger   *slog.Logger
	pending  *queue.Queue[*influxdb2_write.Point]
	reported uint64
	now      func() time.Time

	client influxdb2.Client
	writer PointWriter
	backup *gzip.Writer
	file   io.Closer
}

// NewSink creates an unconnected sink. Points are queued until Connect
// installs a writer.
func NewSink(cfg Config, logger *slog.Logger) *Sink {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Sink{
		cfg:     cfg,
		logger:  logger.With("component", "influx"),
		pending: queue.New[*influxdb2_write.Point](maxPending),
		now:     time.Now,
	}
}

// Connect pings the server and prepares the bucket. On failure it falls
// back to the backup file when one is configured. Call it before Run.
func (s *Sink) Connect(ctx context.Context) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}

	s.client = influxdb2.NewClientWithOptions(s.cfg.URL, s.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(uint(s.cfg.FlushInterval.Milliseconds())),
	)

	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.client.Close()
		s.client = nil
		if s.cfg.BackupPath == "" {
			return fmt.Errorf("influxdb unreachable at %s: %v", s.cfg.URL, err)
		}
		s.logger.Warn("InfluxDB unreachable, writing to backup file", "url", s.cfg.URL, "backupPath", s.cfg.BackupPath)
		return s.openBackup()
	}

	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	w := s.client.WriteAPI(s.cfg.Org, s.cfg.Bucket)
	go func(errs <-chan error) {
		for writeErr := range errs {
			s.logger.Error("Error sending data to InfluxDB", "bucket", s.cfg.Bucket, "error", writeErr)
		}
	}(w.Errors())
	s.writer = w
	s.logger.Info("InfluxDB client initialized", "url", s.cfg.URL, "bucket", s.cfg.Bucket)
	return nil
}

func (s *Sink) ensureBucket(ctx context.Context) error {
	orgs := s.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, s.cfg.Org)
	if err != nil {
		s.logger.Info("Organization not found, creating", "org", s.cfg.Org)
		if org, err = orgs.CreateOrganizationWithName(ctx, s.cfg.Org); err != nil {
			return fmt.Errorf("creating organization %s: %w", s.cfg.Org, err)
		}
	}

	if _, err := s.client.BucketsAPI().FindBucketByName(ctx, s.cfg.Bucket); err == nil {
		return nil
	}
	s.logger.Info("Bucket not found, creating", "bucket", s.cfg.Bucket)
	rule := domain.RetentionRuleTypeExpire
	_, err = s.client.BucketsAPI().CreateBucketWithName(ctx, org, s.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retention,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *Sink) openBackup() error {
	file, err := os.OpenFile(s.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	s.useBackup(file, file)
	return nil
}

func (s *Sink) useBackup(w io.Writer, c io.Closer) {
	s.backup = gzip.NewWriter(w)
	s.file = c
	s.writer = lineWriter{w: s.backup, logger: s.logger}
}

// lineWriter writes points as line protocol.
type lineWriter struct {
	w      *gzip.Writer
	logger *slog.Logger
}

func (l lineWriter) WritePoint(p *influxdb2_write.Point) {
	line := strings.TrimRight(influxdb2_write.PointToLineProtocol(p, time.Nanosecond), "\n")
	if _, err := l.w.Write([]byte(line + "\n")); err != nil {
		l.logger.Error("Error writing to InfluxDB backup file", "error", err)
	}
}

func (l lineWriter) Flush() {
	if err := l.w.Flush(); err != nil {
		l.logger.Error("Error flushing InfluxDB backup file", "error", err)
	}
}

// OnTransition queues an occupancy point.
func (s *Sink) OnTransition(tr occupancy.Transition) {
	s.pending.Push(TransitionPoint(tr, s.now()))
}

// OnFall queues a fall point.
func (s *Sink) OnFall(ev core.FallEvent) {
	s.pending.Push(FallPoint(ev, s.now()))
}

// Pending returns the number of queued points.
func (s *Sink) Pending() int {
	return s.pending.Len()
}

// Flush writes every queued point. It is a no-op until Connect succeeds.
func (s *Sink) Flush() int {
	if s.writer == nil || s.pending.Empty() {
		return 0
	}
	if d := s.pending.Dropped(); d > s.reported {
		s.logger.Warn("Dropped points while the writer was unavailable", "count", d-s.reported)
		s.reported = d
	}
	points := s.pending.Drain()
	for _, p := range points {
		s.writer.WritePoint(p)
	}
	s.writer.Flush()
	return len(points)
}

// Run flushes on every interval until ctx ends, then flushes once more and
// closes the sink.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return s.Close()
		case <-ticker.C:
			if n := s.Flush(); n > 0 {
				s.logger.Debug("Flushed points", "count", n)
			}
		}
	}
}

// Close releases the client or backup file.
func (s *Sink) Close() error {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	var err error
	if s.backup != nil {
		err = s.backup.Close()
		s.backup = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	s.writer = nil
	return err
}

// TransitionPoint converts an occupancy transition. The entry timestamp is
// used when it parses, otherwise fallback.
func TransitionPoint(tr occupancy.Transition, fallback time.Time) *influxdb2_write.Point {
	ts := tr.Entry.Time()
	if ts.IsZero() {
		ts = fallback
	}
	return influxdb2.NewPoint(MeasurementOccupancy,
		map[string]string{"zone_id": tr.ZoneID, "zone_name": tr.ZoneName},
		map[string]interface{}{
			"occupied":     tr.Entry.Type == core.Occupied,
			"target_count": tr.Entry.TargetCount,
		},
		ts,
	)
}

// FallPoint converts a fall alert.
func FallPoint(ev core.FallEvent, fallback time.Time) *influxdb2_write.Point {
	ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	if err != nil {
		ts = fallback
	}
	tags := map[string]string{"target_id": ev.TargetID.String()}
	if ev.ZoneID != "" {
		tags["zone_id"] = ev.ZoneID
	}
	return influxdb2.NewPoint(MeasurementFall, tags,
		map[string]interface{}{"x": ev.X, "y": ev.Y},
		ts,
	)
}
