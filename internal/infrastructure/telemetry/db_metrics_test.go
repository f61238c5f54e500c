package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func TestDBMetrics_RecordQuery(t *testing.T) {
	mp, collect := newTestMeter(t)
	m, err := NewDBMetrics(mp.Meter("test"), DBMetricsConfig{SlowQueryThreshold: 50 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordQuery(ctx, "select", "sync_records", 10*time.Millisecond)
	m.RecordQuery(ctx, "UPDATE", "sync_records", 80*time.Millisecond)
	m.RecordQuery(ctx, "", "", 90*time.Millisecond)

	rm := collect()
	assert.Equal(t, int64(1), sumWhere(t, rm, "db_query_total", AttrDBOperation.String("SELECT")))
	assert.Equal(t, int64(1), sumWhere(t, rm, "db_query_total", AttrDBOperation.String("UNKNOWN")))
	assert.Equal(t, int64(1), sumWhere(t, rm, "db_slow_query_total", AttrDBTable.String("sync_records")))
	assert.Equal(t, int64(1), sumWhere(t, rm, "db_slow_query_total", AttrDBTable.String("unknown")))
}

func TestDBMetricsPlugin_CountsStatements(t *testing.T) {
	mp, collect := newTestMeter(t)
	m, err := NewDBMetrics(mp.Meter("test"), DBMetricsConfig{}, nil)
	require.NoError(t, err)

	db := setupTestDB(t)
	require.NoError(t, db.Use(NewDBMetricsPlugin(m)))
	assert.Equal(t, "db_metrics", NewDBMetricsPlugin(m).Name())

	require.NoError(t, db.Create(&testRow{Name: "a"}).Error)
	var rows []testRow
	require.NoError(t, db.Find(&rows).Error)
	require.NoError(t, db.Exec("DELETE FROM test_rows").Error)

	rm := collect()
	assert.Equal(t, int64(1), sumWhere(t, rm, "db_query_total", AttrDBOperation.String("INSERT")))
	assert.Equal(t, int64(1), sumWhere(t, rm, "db_query_total", AttrDBOperation.String("SELECT")))
	assert.Equal(t, int64(1), sumWhere(t, rm, "db_query_total", AttrDBOperation.String("DELETE")))
}

func TestDBMetrics_PoolStats(t *testing.T) {
	mp, collect := newTestMeter(t)
	m, err := NewDBMetrics(mp.Meter("test"), DBMetricsConfig{PoolStatsInterval: time.Hour}, nil)
	require.NoError(t, err)

	sqlDB, err := setupTestDB(t).DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(4)

	m.StartPoolStatsCollection(context.Background(), sqlDB)
	require.Eventually(t, func() bool {
		_, ok := findMetric(collect(), "db_pool_connections_max")
		return ok
	}, time.Second, 10*time.Millisecond)
	m.Stop()
	m.Stop()

	metric, _ := findMetric(collect(), "db_pool_connections_max")
	points := metric.Data.(metricdata.Gauge[int64]).DataPoints
	require.Len(t, points, 1)
	assert.Equal(t, int64(4), points[0].Value)
}

func TestDetectOperationType(t *testing.T) {
	tests := map[string]string{
		"  select * from x":                    "SELECT",
		"INSERT INTO x VALUES (1)":             "INSERT",
		"update x set a = 1":                   "UPDATE",
		"DELETE FROM x":                        "DELETE",
		"WITH t AS (SELECT 1) SELECT * FROM t": "SELECT",
		"VACUUM":                               "OTHER",
	}
	for query, want := range tests {
		assert.Equal(t, want, detectOperationType(query), query)
	}
}
