package tally

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastOpts builds client options that never sleep for real.
func fastOpts(endpoint string) []Option {
	return []Option{
		WithEndpoint(endpoint),
		WithPacing(time.Microsecond, 10*time.Microsecond),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	}
}

func TestSend_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-key", r.Header.Get("Api-Key"))

		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "organization")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"organization":{"id":"1"}}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", fastOpts(srv.URL)...)

	data, err := client.Send(context.Background(), `query { organization }`, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"organization":{"id":"1"}}`, string(data))

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, float64(1), stats.SuccessRate)
}

func TestSend_RetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.Send(context.Background(), "query {}", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(1), client.Stats().RateLimited)
}

func TestSend_CountersTrackAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.Send(context.Background(), "query {}", nil)
	require.Error(t, err)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Sends)
	assert.Equal(t, int64(3), stats.Requests)
	assert.Equal(t, int64(3), stats.Failures)
	assert.Equal(t, int64(0), stats.Successes)
	assert.Equal(t, stats.Requests, stats.Successes+stats.Failures+stats.RateLimited)
	assert.Equal(t, float64(0), stats.SuccessRate)
	assert.Equal(t, float64(0), stats.Efficiency)
}

func TestSend_EfficiencyReflectsRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.Send(context.Background(), "query {}", nil)
	require.NoError(t, err)

	// The call succeeded, but it took two attempts to get there.
	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Sends)
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, float64(1), stats.SuccessRate)
	assert.Equal(t, 0.5, stats.Efficiency)
}

func TestSend_RateLimitTightensDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	floor := 10 * time.Millisecond
	client := NewClient("k",
		WithEndpoint(srv.URL),
		WithPacing(floor, 100*time.Millisecond),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)

	_, err := client.Send(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	// Three 429s: delay tightened x1.5 each time.
	assert.Greater(t, client.Stats().CurrentDelay, floor)
}

func TestSend_SuccessRelaxesDelayTowardFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	floor := time.Millisecond
	client := NewClient("k",
		WithEndpoint(srv.URL),
		WithPacing(floor, 10*time.Millisecond),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	client.pacer.OnRateLimit() // push delay above the floor

	for range 200 {
		_, err := client.Send(context.Background(), "query {}", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, floor, client.Stats().CurrentDelay)
}

func TestSend_ServerErrorsRetriedThenSurfaced(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.Send(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, KindServer, KindOf(err))
	assert.Equal(t, int64(3), calls.Load())
}

func TestSend_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.Send(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, KindPermanent, KindOf(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestSend_GraphQLErrorsRetriedThenSurfaced(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"errors":[{"message":"field not found"}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.Send(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, KindApplication, KindOf(err))
	assert.Contains(t, err.Error(), "field not found")
	assert.Equal(t, int64(3), calls.Load())
}

func TestSend_PacerSpacesDispatches(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	delay := 30 * time.Millisecond
	client := NewClient("k",
		WithEndpoint(srv.URL),
		WithPacing(delay, 10*delay),
	)

	for range 3 {
		_, err := client.Send(context.Background(), "query {}", nil)
		require.NoError(t, err)
	}

	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		// The adaptive delay only relaxes by 2% per success, so dispatches
		// must stay near the configured spacing. Allow scheduler slack.
		assert.GreaterOrEqual(t, gap, delay/2, "dispatch %d too close to previous", i)
	}
}

func TestOrganizationBySlug_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"organization":null}}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.OrganizationBySlug(context.Background(), "no-such-dao")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestDelegates_DecodesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"delegates":{
			"nodes":[
				{"id":123,"account":{"address":"0xAbc","ens":"a.eth"},"votesCount":"1500000000000000000","delegatorsCount":12,
				 "statement":{"statement":"hello","isSeekingDelegation":true}},
				{"id":124,"account":null}
			],
			"pageInfo":{"firstCursor":"c1","lastCursor":"c2","count":2}
		}}}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	page, err := client.Delegates(context.Background(), "org1", "", 200)
	require.NoError(t, err)
	require.Len(t, page.Items, 1, "node without account must be dropped")
	assert.Equal(t, "0xabc", page.Items[0].Key())
	assert.Equal(t, 12, page.Items[0].DelegatorsCount)
	assert.True(t, page.Items[0].SeekingDelegation)
	assert.Equal(t, "c2", page.NextCursor)
}

func TestVotes_DecodesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"votes":{
			"nodes":[
				{"id":"v1","type":"for","amount":"500","voter":{"address":"0xA"},"block":{"timestamp":"2023-01-01T00:00:00Z","number":17000000},"txHash":"0xdead"},
				{"id":"v2","type":"","amount":null,"voter":null}
			],
			"pageInfo":{"lastCursor":"","count":2}
		}}}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	page, err := client.Votes(context.Background(), "p1", "", 5000)
	require.NoError(t, err)
	require.Len(t, page.Items, 1, "vote without voter must be dropped")
	v := page.Items[0]
	assert.Equal(t, "500", v.Amount)
	assert.Equal(t, int64(17000000), v.BlockNumber)
	assert.Empty(t, page.NextCursor)
}

func TestGovernor_DecodesStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"governor":{
			"id":"eip155:1:0xGov","name":"Main Governor","slug":"main","kind":"single",
			"quorum":"40000000000000000000000000",
			"delegatesCount":1234,"delegatesVotesCount":"987654321","tokenOwnersCount":400000,
			"proposalStats":{"total":80,"passed":60,"failed":15,"active":5},
			"token":{"symbol":"GOV","decimals":18,"supply":"1000000000"}
		}}}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	gov, err := client.Governor(context.Background(), "eip155:1:0xGov")
	require.NoError(t, err)
	assert.Equal(t, 1234, gov.DelegatesCount)
	assert.Equal(t, 80, gov.ProposalsTotal)
	assert.Equal(t, 5, gov.ProposalsActive)
	assert.Equal(t, "GOV", gov.TokenSymbol)
	assert.Equal(t, 18, gov.TokenDecimals)
}

func TestGovernor_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"governor":null}}`))
	}))
	defer srv.Close()

	client := NewClient("k", fastOpts(srv.URL)...)

	_, err := client.Governor(context.Background(), "eip155:1:0xNope")
	require.ErrorIs(t, err, ErrGovernorNotFound)
}
