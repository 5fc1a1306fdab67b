package resource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renewdesk/renewctl/internal/apierr"
	"github.com/renewdesk/renewctl/internal/gateway"
)

type vehicle struct {
	ID    int64  `json:"id"`
	Plate string `json:"plate"`
}

type captured struct {
	method string
	path   string
	query  url.Values
	body   string
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, c captured)) (*gateway.Gateway, *[]captured) {
	t.Helper()
	var calls []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c := captured{method: r.Method, path: r.URL.Path, query: r.URL.Query(), body: string(body)}
		calls = append(calls, c)
		w.Header().Set("Content-Type", "application/json")
		handler(w, c)
	}))
	t.Cleanup(server.Close)

	policy := gateway.DefaultRetryPolicy()
	policy.RetryCount = 0
	gw := gateway.New(server.Client(), nil, nil,
		gateway.WithBaseURL(server.URL+"/api"),
		gateway.WithPolicy(policy),
	)
	return gw, &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestQueryValuesDropsEmpty(t *testing.T) {
	q := Query{Page: 2, Search: "abc", Extra: url.Values{"status": {""}, "type": {"car"}}}
	v := q.Values()

	assert.Equal(t, "2", v.Get("page"))
	assert.Equal(t, "abc", v.Get("search"))
	assert.Equal(t, "car", v.Get("type"))
	assert.NotContains(t, v, "per_page")
	assert.NotContains(t, v, "status")
	assert.NotContains(t, v, "sort")
}

func TestEnvelopeUnwrap(t *testing.T) {
	ok := Envelope[int]{Success: true, Data: 7}
	v, err := ok.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	bad := Envelope[int]{Success: false, Message: "Vehicle is locked", Data: 7}
	v, err = bad.Unwrap()
	require.Error(t, err)
	assert.Zero(t, v)
	assert.True(t, errors.Is(err, ErrUnsuccessful))
	assert.Equal(t, "Vehicle is locked", err.Error())
}

func TestList(t *testing.T) {
	gw, calls := newTestServer(t, func(w http.ResponseWriter, c captured) {
		writeJSON(w, 200, map[string]any{
			"success": true,
			"data":    []vehicle{{ID: 1, Plate: "CA 123"}, {ID: 2, Plate: "GP 456"}},
		})
	})

	items, err := NewClient[vehicle](gw, "vehicles").List(context.Background(), Query{Page: 1})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "GP 456", items[1].Plate)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/api/vehicles", (*calls)[0].path)
	assert.Equal(t, "1", (*calls)[0].query.Get("page"))
}

func TestListRenewalUsesLookupEndpoint(t *testing.T) {
	gw, calls := newTestServer(t, func(w http.ResponseWriter, c captured) {
		writeJSON(w, 200, map[string]any{"success": true, "data": []vehicle{}})
	})

	_, err := NewClient[vehicle](gw, "vehicles").List(context.Background(), Query{
		Extra: url.Values{"page_type": {PageTypeRenewal}, "ids": {"1,2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/vehicles/get-vehicles-by-ids", (*calls)[0].path)
	assert.Equal(t, "1,2", (*calls)[0].query.Get("ids"))
}

func TestListPaginated(t *testing.T) {
	gw, _ := newTestServer(t, func(w http.ResponseWriter, c captured) {
		writeJSON(w, 200, map[string]any{
			"success": true,
			"data": map[string]any{
				"items":      []vehicle{{ID: 3}},
				"pagination": map[string]int{"current_page": 1, "last_page": 4, "per_page": 1, "total": 4},
			},
		})
	})

	page, err := NewClient[vehicle](gw, "vehicles").ListPaginated(context.Background(), Query{PerPage: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 4, page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore())
}

func TestGetCreateUpdateDelete(t *testing.T) {
	gw, calls := newTestServer(t, func(w http.ResponseWriter, c captured) {
		if c.method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, 200, map[string]any{"success": true, "data": vehicle{ID: 9, Plate: "WC 9"}})
	})
	client := NewClient[vehicle](gw, "/vehicles/")
	ctx := context.Background()

	got, err := client.Get(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ID)

	_, err = client.Create(ctx, vehicle{Plate: "WC 9"})
	require.NoError(t, err)

	_, err = client.Update(ctx, "9", map[string]string{"plate": "WC 10"})
	require.NoError(t, err)

	require.NoError(t, client.Delete(ctx, "9"))

	require.Len(t, *calls, 4)
	assert.Equal(t, "GET /api/vehicles/9", (*calls)[0].method+" "+(*calls)[0].path)
	assert.Equal(t, "POST /api/vehicles", (*calls)[1].method+" "+(*calls)[1].path)
	assert.JSONEq(t, `{"id":0,"plate":"WC 9"}`, (*calls)[1].body)
	assert.Equal(t, "PUT /api/vehicles/9", (*calls)[2].method+" "+(*calls)[2].path)
	assert.Equal(t, "DELETE /api/vehicles/9", (*calls)[3].method+" "+(*calls)[3].path)
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	gw, _ := newTestServer(t, func(w http.ResponseWriter, c captured) {
		writeJSON(w, 200, map[string]any{"success": false, "message": "Not allowed"})
	})

	_, err := NewClient[vehicle](gw, "vehicles").Get(context.Background(), "1")
	require.Error(t, err)
	var envErr *EnvelopeError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "Not allowed", envErr.Message)
}

func TestHTTPErrorsPassThrough(t *testing.T) {
	gw, _ := newTestServer(t, func(w http.ResponseWriter, c captured) {
		writeJSON(w, 404, map[string]any{"success": false, "message": "Vehicle not found"})
	})

	_, err := NewClient[vehicle](gw, "vehicles").Get(context.Background(), "404")
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, 404, e.Status)
	assert.Equal(t, "Vehicle not found", e.ServerMessage())
}

func TestUsersProfile(t *testing.T) {
	gw, calls := newTestServer(t, func(w http.ResponseWriter, c captured) {
		writeJSON(w, 200, map[string]any{"success": true, "data": Profile{Name: "Thandi", Email: "thandi@example.com"}})
	})
	users := NewUsers(gw)

	p, err := users.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Thandi", p.Name)
	assert.Equal(t, "/api/users/profile", (*calls)[0].path)

	_, err = users.UpdateProfile(context.Background(), Profile{Name: "T"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, (*calls)[1].method)
	assert.Equal(t, "users", users.Endpoint())
}
