package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarzone/companion/internal/occupancy"
	"github.com/radarzone/companion/pkg/core"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingWriter struct {
	points  []*influxdb2_write.Point
	flushes int
}

func (r *recordingWriter) WritePoint(p *influxdb2_write.Point) { r.points = append(r.points, p) }
func (r *recordingWriter) Flush()                              { r.flushes++ }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func transition(zone string, typ core.OccupancyType, count int) occupancy.Transition {
	return occupancy.Transition{
		ZoneID:   zone,
		ZoneName: "Bed",
		Entry: core.ZoneLogEntry{
			Timestamp:   "2024-06-01T08:00:00Z",
			Type:        typ,
			TargetCount: count,
		},
	}
}

func TestTransitionPoint(t *testing.T) {
	p := TransitionPoint(transition("a", core.Occupied, 2), time.Time{})

	line := influxdb2_write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "zone_occupancy,zone_id=a,zone_name=Bed occupied=true,target_count=2i 1717228800")
}

func TestTransitionPoint_BadTimestampUsesFallback(t *testing.T) {
	tr := transition("a", core.Unoccupied, 0)
	tr.Entry.Timestamp = "yesterday"
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	p := TransitionPoint(tr, fallback)
	assert.Equal(t, fallback, p.Time())
}

func TestFallPoint(t *testing.T) {
	p := FallPoint(core.FallEvent{Timestamp: "2024-06-01T08:00:00Z", TargetID: "7", X: 1.5, Y: -2}, time.Time{})

	line := influxdb2_write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "fall_event,target_id=7 x=1.5,y=-2 1717228800")
}

func TestSink_QueuesUntilFlush(t *testing.T) {
	s := NewSink(Config{Enabled: true}, quiet)
	w := &recordingWriter{}
	s.writer = w

	s.OnTransition(transition("a", core.Occupied, 1))
	s.OnFall(core.FallEvent{TargetID: "1"})
	assert.Equal(t, 2, s.Pending())
	assert.Empty(t, w.points)

	assert.Equal(t, 2, s.Flush())
	assert.Len(t, w.points, 2)
	assert.Equal(t, 1, w.flushes)
	assert.Zero(t, s.Pending())

	assert.Zero(t, s.Flush(), "empty queue is not flushed")
	assert.Equal(t, 1, w.flushes)
}

func TestSink_FlushWithoutWriterKeepsPoints(t *testing.T) {
	s := NewSink(Config{}, quiet)
	s.OnTransition(transition("a", core.Occupied, 1))

	assert.Zero(t, s.Flush())
	assert.Equal(t, 1, s.Pending())
}

func TestSink_BackupWritesGzippedLineProtocol(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(Config{Enabled: true}, quiet)
	s.useBackup(&buf, nopCloser{})

	s.OnTransition(transition("a", core.Occupied, 1))
	s.OnTransition(transition("a", core.Unoccupied, 0))
	require.Equal(t, 2, s.Flush())
	require.NoError(t, s.Close())

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "occupied=true")
	assert.Contains(t, string(lines[1]), "occupied=false")
}

func TestSink_RunFlushesOnCancel(t *testing.T) {
	s := NewSink(Config{Enabled: true, FlushInterval: time.Hour}, quiet)
	w := &recordingWriter{}
	s.writer = w
	s.OnFall(core.FallEvent{TargetID: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Len(t, w.points, 1)
}

func TestConnect_Disabled(t *testing.T) {
	s := NewSink(Config{}, quiet)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrDisabled)
}

func TestConnect_UnreachableWithoutBackup(t *testing.T) {
	s := NewSink(Config{Enabled: true, URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"}, quiet)
	assert.Error(t, s.Connect(context.Background()))
}

func TestConnect_UnreachableFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.lp.gz")
	s := NewSink(Config{Enabled: true, URL: "http://127.0.0.1:1", Org: "o", Bucket: "b", BackupPath: path}, quiet)

	require.NoError(t, s.Connect(context.Background()))
	s.OnTransition(transition("a", core.Occupied, 1))
	require.Equal(t, 1, s.Flush())
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
