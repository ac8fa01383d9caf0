package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matwana-io/matwana-engine/pkg/schema"
)

func TestIsCacheValid(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cachedAt := now.Add(-4 * time.Minute)

	tests := []struct {
		name string
		ds   DataSource
		want bool
	}{
		{
			name: "fresh cache",
			ds:   DataSource{CacheEnabled: true, CacheTTLSeconds: 300, CachedAt: &cachedAt},
			want: true,
		},
		{
			name: "expired cache",
			ds:   DataSource{CacheEnabled: true, CacheTTLSeconds: 120, CachedAt: &cachedAt},
			want: false,
		},
		{
			name: "cache disabled",
			ds:   DataSource{CacheEnabled: false, CacheTTLSeconds: 300, CachedAt: &cachedAt},
			want: false,
		},
		{
			name: "never cached",
			ds:   DataSource{CacheEnabled: true, CacheTTLSeconds: 300},
			want: false,
		},
		{
			name: "expires exactly now",
			ds: DataSource{CacheEnabled: true, CacheTTLSeconds: 240,
				CachedAt: &cachedAt},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ds.isCacheValidAt(now))
		})
	}
}

func TestSuccessRate(t *testing.T) {
	ds := DataSource{}
	assert.Equal(t, 100.0, ds.SuccessRate(), "no attempts reads as fully available")

	ds.SuccessCount = 7
	ds.ErrorCount = 3
	assert.InDelta(t, 70.0, ds.SuccessRate(), 0.0001)
}

func TestNeedsRefresh(t *testing.T) {
	past := time.Now().UTC().Add(-10 * time.Minute)
	recent := time.Now().UTC().Add(-10 * time.Second)

	assert.False(t, (&DataSource{AutoRefresh: false, RefreshFrequency: 60}).NeedsRefresh())
	assert.False(t, (&DataSource{AutoRefresh: true, RefreshFrequency: 0}).NeedsRefresh())
	assert.False(t, (&DataSource{AutoRefresh: true, RefreshFrequency: 60, RefreshInProgress: true}).NeedsRefresh())
	assert.True(t, (&DataSource{AutoRefresh: true, RefreshFrequency: 60}).NeedsRefresh(), "never refreshed")
	assert.True(t, (&DataSource{AutoRefresh: true, RefreshFrequency: 60, LastRefresh: &past}).NeedsRefresh())
	assert.False(t, (&DataSource{AutoRefresh: true, RefreshFrequency: 60, LastRefresh: &recent}).NeedsRefresh())
}

func TestRecordSuccess(t *testing.T) {
	ds := &DataSource{
		HealthStatus:        HealthDegraded,
		ConsecutiveFailures: 4,
		LastErrorMessage:    "boom",
		RefreshInProgress:   true,
		AutoRefresh:         true,
		RefreshFrequency:    300,
		RecordCount:         10,
	}

	ds.RecordSuccess(200, 25)

	assert.Equal(t, HealthHealthy, ds.HealthStatus)
	assert.Equal(t, 0, ds.ConsecutiveFailures)
	assert.Equal(t, 1, ds.SuccessCount)
	assert.Empty(t, ds.LastErrorMessage)
	assert.False(t, ds.RefreshInProgress)
	assert.Equal(t, string(RefreshSuccess), ds.LastRefreshStatus)
	assert.Equal(t, 25, ds.RecordCount)
	assert.Equal(t, 10, ds.LastRecordCount)
	require.NotNil(t, ds.NextRefresh)
	assert.NotNil(t, ds.LastRefresh)
	assert.Equal(t, 100.0, ds.UptimePercentage)
}

func TestRecordSuccess_ResponseTimeSmoothing(t *testing.T) {
	ds := &DataSource{}

	// First sample seeds the average and both bounds.
	ds.RecordSuccess(100, 1)
	assert.Equal(t, 100.0, ds.AvgResponseTime)
	assert.Equal(t, 100.0, ds.MinResponseTime)
	assert.Equal(t, 100.0, ds.MaxResponseTime)

	// new = old*0.7 + sample*0.3
	ds.RecordSuccess(200, 1)
	assert.InDelta(t, 130.0, ds.AvgResponseTime, 0.0001)
	assert.Equal(t, 100.0, ds.MinResponseTime)
	assert.Equal(t, 200.0, ds.MaxResponseTime)

	ds.RecordSuccess(50, 1)
	assert.InDelta(t, 106.0, ds.AvgResponseTime, 0.0001)
	assert.Equal(t, 50.0, ds.MinResponseTime)
	assert.Equal(t, 200.0, ds.MaxResponseTime)
}

func TestRecordError_HealthTransitions(t *testing.T) {
	ds := &DataSource{HealthStatus: HealthHealthy, SuccessCount: 100}

	ds.RecordError("fail 1")
	ds.RecordError("fail 2")
	assert.Equal(t, HealthHealthy, ds.HealthStatus, "two failures stay healthy")

	ds.RecordError("fail 3")
	assert.Equal(t, HealthDegraded, ds.HealthStatus, "three consecutive failures degrade")

	ds.RecordError("fail 4")
	assert.Equal(t, HealthDegraded, ds.HealthStatus)

	ds.RecordError("fail 5")
	assert.Equal(t, HealthDown, ds.HealthStatus, "five consecutive failures mark down")

	// A single success resets the streak and the status.
	ds.RecordSuccess(100, 1)
	assert.Equal(t, HealthHealthy, ds.HealthStatus)
	assert.Equal(t, 0, ds.ConsecutiveFailures)
}

func TestRecordError_LowSuccessRateDegrades(t *testing.T) {
	// 3 successes, 1 prior error: the next failure drops the rate to 60%.
	ds := &DataSource{HealthStatus: HealthHealthy, SuccessCount: 3, ErrorCount: 1}
	ds.RecordError("fail")
	assert.Equal(t, HealthDegraded, ds.HealthStatus)
}

func TestRecordError_TruncatesMessage(t *testing.T) {
	ds := &DataSource{}
	ds.RecordError(strings.Repeat("x", 5000))
	assert.Len(t, ds.LastErrorMessage, 1000)
}

func TestRecordError_AlertCooldown(t *testing.T) {
	ds := &DataSource{AlertOnFailure: true, AlertThreshold: 3}

	assert.False(t, ds.RecordError("fail 1"))
	assert.False(t, ds.RecordError("fail 2"))
	assert.True(t, ds.RecordError("fail 3"), "threshold reached fires an alert")
	assert.False(t, ds.RecordError("fail 4"), "cooldown suppresses repeat alerts")

	// An alert sent over an hour ago no longer suppresses.
	stale := time.Now().UTC().Add(-2 * time.Hour)
	ds.AlertSentAt = &stale
	assert.True(t, ds.RecordError("fail 5"))
}

func TestRecordError_AlertDisabled(t *testing.T) {
	ds := &DataSource{AlertOnFailure: false, AlertThreshold: 1}
	assert.False(t, ds.RecordError("fail"))

	ds = &DataSource{AlertOnFailure: true, AlertThreshold: 0}
	assert.False(t, ds.RecordError("fail"))
}

func TestCacheData(t *testing.T) {
	ds := &DataSource{CacheEnabled: false}
	ds.CacheData([]map[string]any{{"a": 1}})
	assert.Nil(t, ds.CachedData, "disabled cache stores nothing")

	ds.CacheEnabled = true
	ds.CacheData([]map[string]any{{"a": 1}})
	assert.NotNil(t, ds.CachedData)
	assert.NotNil(t, ds.CachedAt)

	ds.ClearCache()
	assert.Nil(t, ds.CachedData)
	assert.Nil(t, ds.CachedAt)
}

func TestApplySchema(t *testing.T) {
	ds := &DataSource{}
	s := &schema.Schema{Columns: []schema.Column{{Name: "a"}, {Name: "b"}}}

	rows := make([]map[string]any, 8)
	for i := range rows {
		rows[i] = map[string]any{"a": i}
	}
	ds.ApplySchema(s, rows)

	assert.True(t, ds.HasSchema())
	assert.Equal(t, 2, ds.ColumnCount)
	sample, ok := ds.SampleData.([]map[string]any)
	require.True(t, ok)
	assert.Len(t, sample, 5, "sample keeps the first five rows")

	// Nil schema is a no-op.
	before := ds.SchemaInferredAt
	ds.ApplySchema(nil, rows)
	assert.Equal(t, before, ds.SchemaInferredAt)
}

func TestSnapshot(t *testing.T) {
	ds := &DataSource{
		HealthStatus:        HealthDegraded,
		SuccessCount:        8,
		ErrorCount:          2,
		UptimePercentage:    80,
		AvgResponseTime:     120,
		ConsecutiveFailures: 3,
		LastErrorMessage:    "timeout",
	}
	snap := ds.Snapshot()
	assert.Equal(t, HealthDegraded, snap.HealthStatus)
	assert.InDelta(t, 80.0, snap.SuccessRate, 0.0001)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, "timeout", snap.LastErrorMessage)
}
