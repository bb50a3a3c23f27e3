// Package client is the Go client for the snipebot HTTP API, used by the
// snipectl command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

type Auction struct {
	ID            string `json:"id"`
	ListingNumber string `json:"listing_number"`
	ListingURL    string `json:"listing_url"`
	ItemTitle     string `json:"item_title"`
	SellerName    string `json:"seller_name"`
	CurrentPrice  string `json:"current_price"`
	MaxBid        string `json:"max_bid"`
	Currency      string `json:"currency"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	StatusDetail  string `json:"status_detail"`
	Outcome       string `json:"outcome"`
	FinalPrice    string `json:"final_price"`
}

type BulkResult struct {
	Listing string   `json:"listing"`
	Error   string   `json:"error"`
	Auction *Auction `json:"auction"`
}

type Attempt struct {
	Time   string `json:"time"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// APIError carries the server's error message and status code.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (http %d)", e.Message, e.Status)
}

func (c *Client) Login(ctx context.Context, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/auth", map[string]string{"password": password}, &out)
	if err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

func (c *Client) Add(ctx context.Context, listing, maxBid string) (*Auction, error) {
	var out Auction
	err := c.do(ctx, http.MethodPost, "/sniper/add", map[string]string{"listing": listing, "max_bid": maxBid}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddBulk(ctx context.Context, items []BulkItem) ([]BulkResult, error) {
	reqItems := make([]map[string]string, 0, len(items))
	for _, it := range items {
		reqItems = append(reqItems, map[string]string{"listing": it.Listing, "max_bid": it.MaxBid})
	}
	var out struct {
		Results []BulkResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/sniper/bulk", map[string]any{"items": reqItems}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) List(ctx context.Context) ([]Auction, error) {
	var out struct {
		Auctions []Auction `json:"auctions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sniper/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Auctions, nil
}

func (c *Client) Status(ctx context.Context, id string) (*Auction, error) {
	var out Auction
	if err := c.do(ctx, http.MethodGet, "/sniper/"+id+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sniper/"+id, nil, nil)
}

func (c *Client) Logs(ctx context.Context, id string) (*Attempt, error) {
	var out struct {
		Attempt *Attempt `json:"attempt"`
	}
	if err := c.do(ctx, http.MethodGet, "/sniper/"+id+"/logs", nil, &out); err != nil {
		return nil, err
	}
	return out.Attempt, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
