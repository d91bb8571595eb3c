package decision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPDeciderRequiresURL(t *testing.T) {
	_, err := NewHTTPDecider(HTTPDeciderConfig{})
	assert.Error(t, err)
}

func TestHTTPDeciderGetDecision(t *testing.T) {
	var gotAuth string
	var gotReq decisionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"action": "buy", "quantity": 1, "price": 100, "confidence": 0.9}`))
	}))
	defer srv.Close()

	d, err := NewHTTPDecider(HTTPDeciderConfig{APIURL: srv.URL, APIKey: "secret", Model: "engine-1"})
	require.NoError(t, err)

	dec, err := d.GetDecision(context.Background(), "BTCUSDT", AccountSnapshot{TotalValue: 1000}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "engine-1", gotReq.Model)
	assert.Equal(t, "BTCUSDT", gotReq.Instrument)
	assert.Equal(t, 1000.0, gotReq.Account.TotalValue)

	assert.Equal(t, ActionBuy, dec.Action)
	assert.Equal(t, "BTCUSDT", dec.Instrument, "instrument backfilled from the request")
}

func TestHTTPDeciderNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, err := NewHTTPDecider(HTTPDeciderConfig{APIURL: srv.URL})
	require.NoError(t, err)

	_, err = d.GetDecision(context.Background(), "BTCUSDT", AccountSnapshot{}, nil)
	assert.ErrorContains(t, err, "status=503")
}

func TestHTTPDeciderInvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"action": "maybe"}`))
	}))
	defer srv.Close()

	d, err := NewHTTPDecider(HTTPDeciderConfig{APIURL: srv.URL})
	require.NoError(t, err)

	_, err = d.GetDecision(context.Background(), "BTCUSDT", AccountSnapshot{}, nil)
	assert.Error(t, err)
}

func TestHTTPDeciderCircuitOpensAfterRepeatedFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, err := NewHTTPDecider(HTTPDeciderConfig{APIURL: srv.URL})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, gerr := d.GetDecision(context.Background(), "BTCUSDT", AccountSnapshot{}, nil)
		assert.Error(t, gerr)
	}
	assert.Equal(t, 5, hits, "breaker stops hammering a down engine")
}
