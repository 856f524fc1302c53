// Package api is a client of the relay room API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adwski/audiorooms/backend/model"
)

const defaultTimeout = 10 * time.Second

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUnexpected   = errors.New("unexpected api response")
)

type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the API at base, e.g. http://localhost:8080.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: hc,
	}
}

type roomsResponse struct {
	Rooms []model.RoomInfo `json:"rooms"`
}

type roomResponse struct {
	Room model.RoomInfo `json:"room"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) List(ctx context.Context) ([]model.RoomInfo, error) {
	var resp roomsResponse
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) Create(ctx context.Context, name string) (model.RoomInfo, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return model.RoomInfo{}, err
	}
	var resp roomResponse
	if err = c.do(ctx, http.MethodPost, "/api/rooms", body, http.StatusCreated, &resp); err != nil {
		return model.RoomInfo{}, err
	}
	return resp.Room, nil
}

func (c *Client) Delete(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(roomID), nil, http.StatusOK, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRoomNotFound
	}
	if resp.StatusCode != want {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return fmt.Errorf("%w: %s %s: status %d %s", ErrUnexpected, method, path, resp.StatusCode, er.Error)
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(ErrUnexpected, err)
	}
	return nil
}
