package connection

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/radarzone/companion/internal/connection"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	attempts     metric.Int64Counter
	failures     metric.Int64Counter
	forced       metric.Int64Counter
	received     metric.Int64Counter
	decodeErrors metric.Int64Counter
	rejected     metric.Int64Counter
	sent         metric.Int64Counter
	refused      metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	m := meter()
	ins := &instruments{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&ins.attempts, "connection.attempts", "Connection attempts started"},
		{&ins.failures, "connection.failures", "Abnormal connection closes"},
		{&ins.forced, "connection.forced_reconnects", "Forced reconnects by cause"},
		{&ins.received, "connection.messages.received", "Inbound frames decoded"},
		{&ins.decodeErrors, "connection.messages.malformed", "Inbound frames dropped as malformed"},
		{&ins.rejected, "connection.messages.rejected", "Inbound frames whose payload did not fit their type"},
		{&ins.sent, "connection.messages.sent", "Outbound frames written"},
		{&ins.refused, "connection.messages.refused", "Outbound frames refused because the transport was not open"},
	}
	for _, c := range counters {
		var err error
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	return ins, nil
}
