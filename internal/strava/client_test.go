package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JoranSlingerland/running-backend/internal/domain"
)

func TestListActivitiesPagesUntilEmpty(t *testing.T) {
	var afters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/athlete/activities", r.URL.Path)
		require.Equal(t, "200", r.URL.Query().Get("per_page"))
		afters = append(afters, r.URL.Query().Get("after"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			fmt.Fprint(w, `[{"id":1,"type":"Run","start_date":"2024-03-01T07:00:00Z"},{"id":2,"type":"Ride","start_date":"2024-03-02T07:00:00Z"}]`)
		case 2:
			fmt.Fprint(w, `[{"id":3,"type":"Run","start_date":"2024-03-03T07:00:00Z","kudos_count":4}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	after := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	client := NewClient(srv.Client(), WithBaseURL(srv.URL))

	activities, err := client.ListActivities(context.Background(), &after)
	require.NoError(t, err)
	require.Len(t, activities, 3)
	require.Equal(t, int64(3), activities[2].ID)
	require.Equal(t, "Run", activities[2].Type)
	require.Equal(t, []string{"1706745600", "1706745600", "1706745600"}, afters)
}

func TestListActivitiesWithoutCheckpointOmitsAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.URL.Query()["after"]
		require.False(t, present)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	activities, err := NewClient(srv.Client(), WithBaseURL(srv.URL)).ListActivities(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, activities)
}

func TestGetActivityNullBodyIsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `null`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), WithBaseURL(srv.URL)).GetActivity(context.Background(), "42")
	require.True(t, IsRateLimited(err))
}

func TestGetActivityStatusErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"message":"nope"}`)
	}))
	defer srv.Close()
	client := NewClient(srv.Client(), WithBaseURL(srv.URL))

	_, err := client.GetActivity(context.Background(), "42")
	require.True(t, IsRateLimited(err))
	require.True(t, IsRetryable(err))

	status = http.StatusNotFound
	_, err = client.GetActivity(context.Background(), "42")
	require.True(t, IsNotFound(err))
	require.False(t, IsRateLimited(err))
	require.False(t, IsRetryable(err))
}

func TestGetActivityDecodesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activities/42", r.URL.Path)
		fmt.Fprint(w, `{
			"id": 42,
			"type": "Run",
			"distance": 10000,
			"moving_time": 3000,
			"elapsed_time": 3100,
			"has_heartrate": true,
			"average_heartrate": 150.5,
			"laps": [{"id": 9, "elapsed_time": 1550, "moving_time": 1500, "average_speed": 3.3, "start_index": 0, "end_index": 1549}],
			"segment_efforts": [{"id": 1}],
			"map": {"summary_polyline": "abc"}
		}`)
	}))
	defer srv.Close()

	activity, err := NewClient(srv.Client(), WithBaseURL(srv.URL)).GetActivity(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, int64(42), activity.ID)
	require.True(t, activity.HasHeartrate)
	require.Len(t, activity.Laps, 1)
	require.Equal(t, 1549, *activity.Laps[0].EndIndex)
}

func TestGetStreamsKeyedByType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activities/42/streams", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("key_by_type"))
		require.Equal(t, "time,heartrate,moving", r.URL.Query().Get("keys"))
		fmt.Fprint(w, `{
			"time": {"data": [0, 1, 2], "series_type": "distance", "original_size": 3, "resolution": "high"},
			"heartrate": {"data": [120, 125, 130]},
			"moving": {"data": [false, true, true]}
		}`)
	}))
	defer srv.Close()

	stream, err := NewClient(srv.Client(), WithBaseURL(srv.URL)).GetStreams(context.Background(), "42", []string{"time", "heartrate", "moving"})
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 2}, stream.TimeData())
	require.Equal(t, []float64{120, 125, 130}, stream.HeartrateData())
	require.Equal(t, []bool{false, true, true}, stream.Moving.Data)
	require.Nil(t, stream.Latlng)
}

func TestNormalize(t *testing.T) {
	hr := 0.5
	wire := Activity{ID: 987654321}
	wire.Type = "Run"
	wire.FullData = true
	wire.CustomFieldsCalculated = true
	wire.HRReserve = &hr
	wire.Laps = []domain.Lap{{HRTrimp: &hr}}

	got := Normalize(wire, "user-1", false)
	require.Equal(t, "987654321", got.ID)
	require.Equal(t, "user-1", got.UserID)
	require.False(t, got.FullData)
	require.False(t, got.CustomFieldsCalculated)
	require.Nil(t, got.HRReserve)
	require.Nil(t, got.Laps[0].HRTrimp)
	require.Equal(t, domain.DefaultUserInput(), got.UserInput)

	require.True(t, Normalize(wire, "user-1", true).FullData)
}
