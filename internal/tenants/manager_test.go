package tenants

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/db"
)

func testTenant(tz string, hours ...int) *db.Tenant {
	return &db.Tenant{
		ID:           "t1",
		Name:         "Test Tenant",
		Timezone:     tz,
		PostingHours: db.IntSlice(hours),
		Active:       true,
	}
}

func TestIsDue(t *testing.T) {
	// 2025-06-01 09:30 UTC
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		tenant     *db.Tenant
		lastPostAt *time.Time
		want       bool
	}{
		{
			name:   "in posting hour, never posted",
			tenant: testTenant("UTC", 9, 17),
			want:   true,
		},
		{
			name:   "outside posting hours",
			tenant: testTenant("UTC", 8, 17),
			want:   false,
		},
		{
			name:       "already posted this hour",
			tenant:     testTenant("UTC", 9),
			lastPostAt: timePtr(time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)),
			want:       false,
		},
		{
			name:       "posted in a different hour today",
			tenant:     testTenant("UTC", 8, 9),
			lastPostAt: timePtr(time.Date(2025, 6, 1, 8, 55, 0, 0, time.UTC)),
			want:       true,
		},
		{
			name:       "posted same hour yesterday",
			tenant:     testTenant("UTC", 9),
			lastPostAt: timePtr(time.Date(2025, 5, 31, 9, 5, 0, 0, time.UTC)),
			want:       true,
		},
		{
			name: "inactive tenant",
			tenant: func() *db.Tenant {
				tn := testTenant("UTC", 9)
				tn.Active = false
				return tn
			}(),
			want: false,
		},
		{
			name:   "posting hour matches in tenant timezone",
			tenant: testTenant("America/New_York", 5), // 09:30 UTC is 05:30 EDT
			want:   true,
		},
		{
			name:   "UTC hour does not count for offset timezone",
			tenant: testTenant("America/New_York", 9),
			want:   false,
		},
		{
			name:   "tokyo evening hour",
			tenant: testTenant("Asia/Tokyo", 18), // 09:30 UTC is 18:30 JST
			want:   true,
		},
		{
			name:       "same-hour check uses tenant local time",
			tenant:     testTenant("Asia/Tokyo", 18),
			lastPostAt: timePtr(time.Date(2025, 6, 1, 9, 1, 0, 0, time.UTC)), // 18:01 JST
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsDue(tt.tenant, tt.lastPostAt, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsDueInvalidTimezone(t *testing.T) {
	tenant := testTenant("Mars/Olympus", 9)
	_, err := IsDue(tenant, nil, time.Now())
	require.Error(t, err)
}

func TestIsDueBecomesEligibleNextDay(t *testing.T) {
	tenant := testTenant("UTC", 9)

	posted := time.Date(2025, 6, 1, 9, 10, 0, 0, time.UTC)

	due, err := IsDue(tenant, &posted, time.Date(2025, 6, 1, 9, 45, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, due, "same hour slot, already posted")

	due, err = IsDue(tenant, &posted, time.Date(2025, 6, 2, 9, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, due, "same wall-clock hour the next day is a fresh slot")
}

func TestManagerMarkPosted(t *testing.T) {
	m := NewManager(nil, zap.NewNop())

	m.Add(testTenant("UTC", 9))

	ctx, ok := m.Context("t1")
	require.True(t, ok)
	assert.Nil(t, ctx.LastPostAt)

	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	m.MarkPosted("t1", at)

	ctx, ok = m.Context("t1")
	require.True(t, ok)
	require.NotNil(t, ctx.LastPostAt)
	assert.Equal(t, at, *ctx.LastPostAt)

	m.Remove("t1")
	_, ok = m.Context("t1")
	assert.False(t, ok)
}

func timePtr(t time.Time) *time.Time { return &t }
