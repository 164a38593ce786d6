package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/jackc/pgx/v5"
)

type queryStartKey struct{}

type queryStart struct {
	at        time.Time
	operation string
}

// MetricsTracer records query durations and failures. It implements pgx.QueryTracer.
type MetricsTracer struct {
	metrics *metrics.StoreMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.StoreMetrics) *MetricsTracer {
	return &MetricsTracer{metrics: m}
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), operation: statementKind(data.SQL)})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	t.metrics.QueryDuration.WithLabelValues(start.operation).Observe(time.Since(start.at).Seconds())
	if data.Err != nil && data.Err != pgx.ErrNoRows {
		t.metrics.QueryErrors.WithLabelValues(start.operation).Inc()
	}
}

// statementKind maps SQL to a bounded label set.
func statementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "other"
	}
	switch kind := strings.ToLower(fields[0]); kind {
	case "select", "insert", "update", "delete", "begin", "commit", "rollback":
		return kind
	default:
		return "other"
	}
}
