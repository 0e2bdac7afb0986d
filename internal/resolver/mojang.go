package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the public Mojang profile endpoint
const DefaultBaseURL = "https://api.mojang.com/users/profiles/minecraft"

const maxProfileBody = 64 << 10

// Mojang resolves names against a remote profile API (GET <base>/<username>).
// Concurrent lookups of the same name share one HTTP request.
type Mojang struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	group   singleflight.Group
}

// NewMojang creates a resolver for the given endpoint. Every request is
// bounded by timeout.
func NewMojang(baseURL string, timeout time.Duration) *Mojang {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mojang{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type profileResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LookupByUsername resolves a username. It returns ErrNotFound for 204/404
// responses and a wrapped error for anything else that is not a 200.
func (m *Mojang) LookupByUsername(ctx context.Context, username string) (*Profile, error) {
	key := strings.ToLower(strings.TrimSpace(username))
	ch := m.group.DoChan(key, func() (interface{}, error) {
		// detached from the first caller so a cancelled waiter does not fail the others
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.fetch(fetchCtx, username)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := *res.Val.(*Profile)
		return &p, nil
	}
}

func (m *Mojang) fetch(ctx context.Context, username string) (*Profile, error) {
	endpoint := m.baseURL + "/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", username, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, ErrNotFound
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBody))
		log.Printf("Error looking up player %s: HTTP %d", username, resp.StatusCode)
		return nil, fmt.Errorf("%w: HTTP %d", ErrBadStatus, resp.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding profile for %s: %w", username, err)
	}
	id, err := ParseUndashedID(body.ID)
	if err != nil {
		return nil, err
	}
	name := body.Name
	if name == "" {
		name = username
	}
	return &Profile{Username: name, UUID: id}, nil
}
