package normalize

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNormalize_StartKeyPriority(t *testing.T) {
	n := New(time.UTC)
	tests := []struct {
		name string
		rec  model.Record
		want time.Time
	}{
		{
			name: "start_ts beats everything",
			rec: model.Record{
				"id": "1", "start_ts": "2024-06-03T08:00:00Z",
				"start_ts_local": "2024-06-03T09:00:00", "start": "2024-06-03T10:00:00Z",
			},
			want: time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "invalid start_ts falls through to start_ts_local",
			rec: model.Record{
				"id": "1", "start_ts": "not a date", "start_ts_local": "2024-06-03T09:00:00",
			},
			want: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "start_at before start",
			rec:  model.Record{"id": "1", "start": "2024-06-03T10:00:00Z", "start_at": "2024-06-03T07:30:00Z"},
			want: time.Date(2024, 6, 3, 7, 30, 0, 0, time.UTC),
		},
		{
			name: "epoch seconds",
			rec:  model.Record{"id": "1", "start": float64(1717401600)},
			want: time.Unix(1717401600, 0),
		},
		{
			name: "epoch milliseconds",
			rec:  model.Record{"id": "1", "start": float64(1717401600000)},
			want: time.UnixMilli(1717401600000),
		},
		{
			name: "fallback scan prefers local over utc",
			rec: model.Record{
				"id": "1", "startsUtc": "2024-06-03T01:00:00Z", "startsLocal": "2024-06-03T02:00:00Z",
			},
			want: time.Date(2024, 6, 3, 2, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := n.Normalize(tt.rec)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(ev.Start), "got %s want %s", ev.Start, tt.want)
		})
	}
}

func TestNormalize_ZoneLessUsesLocation(t *testing.T) {
	tj := mustLoc(t, "America/Tijuana")
	ev, ok := New(tj).Normalize(model.Record{"id": "x", "start_ts_local": "2024-06-03T08:00:00"})
	require.True(t, ok)
	assert.True(t, ev.Start.Equal(time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)))
}

func TestNormalize_EndSynthesis(t *testing.T) {
	n := New(time.UTC)
	start := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		rec  model.Record
	}{
		{"missing end", model.Record{"id": "1", "start_ts": "2024-06-03T08:00:00Z"}},
		{"unparseable end", model.Record{"id": "1", "start_ts": "2024-06-03T08:00:00Z", "end_ts": "soon"}},
		{"zero end", model.Record{"id": "1", "start_ts": "2024-06-03T08:00:00Z", "end_ts": float64(0)}},
		{"end equals start", model.Record{"id": "1", "start_ts": "2024-06-03T08:00:00Z", "end_ts": "2024-06-03T08:00:00Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := n.Normalize(tt.rec)
			require.True(t, ok)
			assert.True(t, start.Add(60*time.Minute).Equal(ev.End))
			assert.True(t, ev.End.After(ev.Start))
		})
	}

	ev, ok := n.Normalize(model.Record{"id": "1", "start": "2024-06-03T08:00:00Z", "due_at": "2024-06-03T08:20:00Z"})
	require.True(t, ok)
	assert.Equal(t, 20*time.Minute, ev.Duration())
}

func TestNormalize_Drops(t *testing.T) {
	n := New(time.UTC)
	_, ok := n.Normalize(model.Record{"title": "no id", "start": "2024-06-03T08:00:00Z"})
	assert.False(t, ok)
	_, ok = n.Normalize(model.Record{"id": "", "start": "2024-06-03T08:00:00Z"})
	assert.False(t, ok)
	_, ok = n.Normalize(model.Record{"id": "1", "end": "2024-06-03T08:00:00Z"})
	assert.False(t, ok, "no start is ever invented")

	events := n.Events([]model.Record{
		{"id": "a", "start": "2024-06-03T08:00:00Z"},
		{"start": "2024-06-03T08:00:00Z"},
		{"id": "b", "start": "garbage"},
		{"id": "c", "start": "2024-06-04"},
	})
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "c", events[1].ID)
}

func TestNormalize_FieldsAndColor(t *testing.T) {
	n := New(time.UTC)
	ev, ok := n.Normalize(model.Record{
		"uuid": "u1", "name": "From name", "start": "2024-06-03T08:00:00Z",
		"status": "in_progress", "notes": "bring shoes",
		"participants": []any{map[string]any{"id": "p1", "name": "Ana", "avatar_url": "http://a"}},
		"recurrence_id": "r1",
	})
	require.True(t, ok)
	assert.Equal(t, "u1", ev.ID)
	assert.Equal(t, "From name", ev.Title)
	assert.Equal(t, model.StatusDoing, ev.Resource.Status)
	assert.Equal(t, model.TagOther, ev.Resource.Tag)
	assert.Equal(t, "bring shoes", ev.Description)
	assert.Equal(t, "bring shoes", ev.Notes)
	assert.Equal(t, n.FallbackColor("u1", "From name"), ev.Color)
	assert.Equal(t, ev.Color, ev.Resource.Color)
	require.Len(t, ev.Resource.Participants, 1)
	assert.Equal(t, "http://a", ev.Resource.Participants[0].AvatarURL)
	require.NotNil(t, ev.Resource.RecurrenceID)

	ev, ok = n.Normalize(model.Record{"id": "2", "start": "2024-06-03T08:00:00Z", "color": "#123abc"})
	require.True(t, ok)
	assert.Equal(t, "#123abc", ev.Color)
	assert.Equal(t, DefaultTitle, ev.Title)

	ev, ok = n.Normalize(model.Record{"id": "3", "start": "2024-06-03T08:00:00Z", "color": "#12"})
	require.True(t, ok)
	assert.Contains(t, Palette, ev.Color, "malformed colors fall back to the palette")
}

func TestHashString(t *testing.T) {
	// Values computed with the 32-bit (h<<5)-h+c rolling hash.
	assert.Equal(t, int64(0), HashString(""))
	assert.Equal(t, int64(97), HashString("a"))
	assert.Equal(t, int64(3105), HashString("ab"))
	assert.Equal(t, int64(99162322), HashString("hello"))

	n := New(time.UTC)
	first := n.FallbackColor("42", "Standup")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, n.FallbackColor("42", "Standup"))
	}
	assert.Equal(t, Palette[HashString("42Standup")%int64(len(Palette))], first)
}

func TestHashString_Overflow(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "zé"
	}
	h := HashString(long)
	assert.GreaterOrEqual(t, h, int64(0))
	assert.LessOrEqual(t, h, int64(1)<<31)
}

func TestExtractItems(t *testing.T) {
	decode := func(s string) any {
		var v any
		require.NoError(t, json.Unmarshal([]byte(s), &v))
		return v
	}
	assert.Len(t, ExtractItems(decode(`[{"id":1},{"id":2}]`)), 2)
	assert.Len(t, ExtractItems(decode(`{"items":[{"id":1}]}`)), 1)
	assert.Len(t, ExtractItems(decode(`{"data":[{"id":1},{"id":2},{"id":3}]}`)), 3)
	assert.Empty(t, ExtractItems(decode(`{"results":[{"id":1}]}`)))
	assert.Empty(t, ExtractItems(decode(`"nope"`)))
	assert.Empty(t, ExtractItems(decode(`[1, "x"]`)))

	recs, err := DecodeItems([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
	recs, err = DecodeItems([]byte("{oops"))
	assert.Error(t, err)
	assert.NotNil(t, recs)
}
