package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/dopaminelite/filestorage/internal/domain"
)

const meterName = "file-storage/service"

// fileMetrics holds the lifecycle counters. Instruments come from the global
// meter provider, which is a no-op until telemetry is initialized.
type fileMetrics struct {
	uploads metric.Int64Counter
	signs   metric.Int64Counter
	deletes metric.Int64Counter
}

func newFileMetrics() *fileMetrics {
	meter := otel.Meter(meterName)

	// Instrument creation only fails on invalid names, the no-op fallbacks keep callers nil-safe
	uploads, err := meter.Int64Counter("files.uploaded", metric.WithDescription("Files stored and recorded"))
	if err != nil {
		uploads, _ = noop.Meter{}.Int64Counter("files.uploaded")
	}
	signs, err := meter.Int64Counter("files.signed", metric.WithDescription("Signed URLs issued"))
	if err != nil {
		signs, _ = noop.Meter{}.Int64Counter("files.signed")
	}
	deletes, err := meter.Int64Counter("files.deleted", metric.WithDescription("Files soft deleted"))
	if err != nil {
		deletes, _ = noop.Meter{}.Int64Counter("files.deleted")
	}

	return &fileMetrics{uploads: uploads, signs: signs, deletes: deletes}
}

func (m *fileMetrics) uploaded(ctx context.Context, ct domain.ContextType, provider string) {
	m.uploads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("file.context_type", string(ct)),
		attribute.String("storage.provider", provider),
	))
}

func (m *fileMetrics) signed(ctx context.Context, intent domain.SignedURLIntent, n int64) {
	m.signs.Add(ctx, n, metric.WithAttributes(attribute.String("file.intent", string(intent))))
}

func (m *fileMetrics) deleted(ctx context.Context, ct domain.ContextType) {
	m.deletes.Add(ctx, 1, metric.WithAttributes(attribute.String("file.context_type", string(ct))))
}
