package posoffline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientExecuteHeaders(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true,"data":{"id":"o-1"}}`))
	}))
	defer srv.Close()

	c := NewClient("pos_test_key", WithBaseURL(srv.URL+"/api/"), WithStationID("s1"))
	assert.Equal(t, srv.URL+"/api", c.BaseURL())
	resp, err := c.Execute(context.Background(), &Request{
		Method:         "POST",
		Endpoint:       "/orders",
		Query:          url.Values{"notify": {"false"}},
		Body:           json.RawMessage(`{"customerId":"c1"}`),
		IdempotencyKey: "pos-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"data":{"id":"o-1"}}`, string(resp.Body))

	require.NotNil(t, got)
	assert.Equal(t, "/api/orders", got.URL.Path)
	assert.Equal(t, "false", got.URL.Query().Get("notify"))
	assert.Equal(t, "Bearer pos_test_key", got.Header.Get("Authorization"))
	assert.Equal(t, "s1", got.Header.Get("X-Station-ID"))
	assert.Equal(t, "pos-abc", got.Header.Get(IdempotencyHeader))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"customerId":"c1"}`, string(body))
}

func TestClientClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		apiCode   string
	}{
		{"unavailable", http.StatusServiceUnavailable, ``, true, ""},
		{"too many requests", http.StatusTooManyRequests, ``, true, ""},
		{"request timeout", http.StatusRequestTimeout, ``, true, ""},
		{"validation envelope", http.StatusUnprocessableEntity, `{"ok":false,"error":{"code":"INVALID","message":"items required"}}`, false, "INVALID"},
		{"bare error", http.StatusConflict, `{"code":"DUPLICATE","message":"already exists"}`, false, "DUPLICATE"},
		{"not found", http.StatusNotFound, `not json`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("", WithBaseURL(srv.URL)).Execute(context.Background(), &Request{Method: "GET", Endpoint: "/orders"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsConnectivity(err))
			assert.Equal(t, !tt.transient, IsRejected(err))

			if !tt.transient {
				var re *RejectedError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, tt.status, re.StatusCode)
				if tt.apiCode != "" {
					require.NotNil(t, re.API)
					assert.Equal(t, tt.apiCode, re.API.Code)
				} else {
					assert.Nil(t, re.API)
				}
			}
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient("", WithBaseURL(base)).Execute(context.Background(), &Request{Method: "POST", Endpoint: "/drafts"})
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))
}

func TestClientCallerCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("", WithBaseURL(srv.URL)).Execute(ctx, &Request{Method: "GET", Endpoint: "/orders"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRejected(err))
}

func TestClientFetchUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/customers":
			w.Write([]byte(`{"ok":true,"data":[{"id":"c1","name":"Ada"}]}`))
		case "/stations":
			w.Write([]byte(`[{"id":"s1","name":"Chair 1"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient("", WithBaseURL(srv.URL))

	data, err := c.Fetch(context.Background(), "/api/customers", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"c1","name":"Ada"}]`, string(data))

	stations, err := c.Stations.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "Chair 1", stations[0].Name)

	_, err = c.Services.List(context.Background(), nil)
	assert.True(t, IsRejected(err))
}

func TestClientDraftSaveMethod(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Write([]byte(`{"ok":true,"data":{"id":"d-1","items":[]}}`))
	}))
	defer srv.Close()
	c := NewClient("", WithBaseURL(srv.URL))

	d, err := c.Drafts.Save(context.Background(), &Draft{Notes: "new"})
	require.NoError(t, err)
	assert.Equal(t, "d-1", d.ID)

	_, err = c.Drafts.Save(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, c.Drafts.Delete(context.Background(), "d-1"))

	assert.Equal(t, []string{"POST /drafts", "PUT /drafts/d-1", "DELETE /drafts/d-1"}, calls)
}
