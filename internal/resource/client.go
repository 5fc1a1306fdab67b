package resource

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/renewdesk/renewctl/internal/gateway"
)

// PageTypeRenewal switches List to the renewal lookup endpoint.
const PageTypeRenewal = "renewal"

// Query holds list parameters. Zero values are not sent.
type Query struct {
	Page    int
	PerPage int
	Sort    string
	Order   string // "asc" or "desc"
	Search  string
	Extra   url.Values
}

// Values encodes q, dropping empty values.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	for k, vs := range q.Extra {
		for _, s := range vs {
			if s != "" {
				v.Add(k, s)
			}
		}
	}
	return v
}

// Pagination describes one page of a paginated listing.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	From        int `json:"from"`
	To          int `json:"to"`
}

// HasMore reports whether a later page exists.
func (p Pagination) HasMore() bool {
	return p.CurrentPage < p.LastPage
}

// Page is a paginated listing.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Client performs CRUD calls against one endpoint.
type Client[T any] struct {
	gw       *gateway.Gateway
	endpoint string
}

// NewClient returns a client for endpoint, relative to the gateway base URL.
func NewClient[T any](gw *gateway.Gateway, endpoint string) *Client[T] {
	return &Client[T]{gw: gw, endpoint: strings.Trim(endpoint, "/")}
}

// Endpoint returns the endpoint path.
func (c *Client[T]) Endpoint() string {
	return c.endpoint
}

func (c *Client[T]) path(parts ...string) string {
	p := c.endpoint
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// List fetches all items.
func (c *Client[T]) List(ctx context.Context, q Query) ([]T, error) {
	p := c.endpoint
	if q.Extra.Get("page_type") == PageTypeRenewal {
		p = c.endpoint + "/get-vehicles-by-ids"
	}
	resp, err := c.gw.Get(ctx, c.gw.URL(p, q.Values()))
	if err != nil {
		return nil, err
	}
	return Decode[[]T](resp)
}

// ListPaginated fetches one page.
func (c *Client[T]) ListPaginated(ctx context.Context, q Query) (*Page[T], error) {
	resp, err := c.gw.Get(ctx, c.gw.URL(c.endpoint, q.Values()))
	if err != nil {
		return nil, err
	}
	page, err := Decode[Page[T]](resp)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// Get fetches one item.
func (c *Client[T]) Get(ctx context.Context, id string) (T, error) {
	resp, err := c.gw.Get(ctx, c.path(id))
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](resp)
}

// Create posts a new item.
func (c *Client[T]) Create(ctx context.Context, body any) (T, error) {
	resp, err := c.gw.Post(ctx, c.endpoint, body)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](resp)
}

// Update replaces the item with the given id.
func (c *Client[T]) Update(ctx context.Context, id string, body any) (T, error) {
	resp, err := c.gw.Put(ctx, c.path(id), body)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](resp)
}

// Delete removes the item with the given id.
func (c *Client[T]) Delete(ctx context.Context, id string) error {
	resp, err := c.gw.Delete(ctx, c.path(id))
	if err != nil {
		return err
	}
	// Some deletes answer 204 with no body.
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	env, err := DecodeEnvelope[any](resp)
	if err != nil {
		return err
	}
	_, err = env.Unwrap()
	return err
}
