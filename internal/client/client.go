// Package client talks to a btslice server.
package client

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"github.com/dacapoday/btslice/btree"
	"github.com/dacapoday/btslice/internal/server"
)

const (
	entryEndpoint  = "/db/{key}"
	statEndpoint   = "/stat"
	healthEndpoint = "/health"
)

type Client struct {
	client *resty.Client
}

func New(serverURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(serverURL).
			SetTimeout(30 * time.Second),
	}
}

// Get fetches the value and flags stored under key.
func (c *Client) Get(ctx context.Context, key string) (val []byte, flags uint32, found bool, err error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("key", key).
		Get(entryEndpoint)
	if err != nil {
		return nil, 0, false, errors.Wrapf(err, "get %q", key)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, 0, false, nil
	default:
		return nil, 0, false, errors.Newf("get %q: %s: %s", key, resp.Status(), resp.String())
	}
	f, err := strconv.ParseUint(resp.Header().Get(server.FlagsHeader), 10, 32)
	if err != nil {
		return nil, 0, false, errors.Wrapf(err, "get %q: flags", key)
	}
	return resp.Body(), uint32(f), true, nil
}

// Stat returns the shape of every slice of the server's store.
func (c *Client) Stat(ctx context.Context) (stats []btree.Stat, err error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&stats).
		Get(statEndpoint)
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	if resp.IsError() {
		return nil, errors.Newf("stat: %s", resp.Status())
	}
	return stats, nil
}

func (c *Client) Health(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get(healthEndpoint)
	if err != nil {
		return errors.Wrap(err, "health")
	}
	if resp.IsError() {
		return errors.Newf("health: %s", resp.Status())
	}
	return nil
}
