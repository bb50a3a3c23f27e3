package ebay

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"snipebot/internal/auction"
	logx "snipebot/pkg/logx"
)

const (
	SandboxBase    = "https://api.sandbox.ebay.com"
	ProductionBase = "https://api.ebay.com"
)

// Config configures the HTTP client.
type Config struct {
	Env        string // "production" or "sandbox"
	BaseURL    string // overrides Env when set (tests, proxies)
	AppID      string
	Timeout    time.Duration // per-request default; bid calls pass shorter ctx deadlines
	RatePerSec int           // outbound rate limit; 0 disables
}

// HTTPClient talks to the eBay Browse API (JSON, reads) and Trading API
// (XML, PlaceOffer).
type HTTPClient struct {
	cfg     Config
	base    string
	hc      *http.Client
	tokens  TokenProvider
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTPClient(cfg Config, tokens TokenProvider, log logx.Logger) *HTTPClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = SandboxBase
		if strings.EqualFold(cfg.Env, "production") {
			base = ProductionBase
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPClient{
		cfg:     cfg,
		base:    base,
		hc:      &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		limiter: limiter,
		log:     log,
	}
}

type browseItem struct {
	ItemID      string `json:"itemId"`
	Title       string `json:"title"`
	ItemWebURL  string `json:"itemWebUrl"`
	ItemEndDate string `json:"itemEndDate"`
	Price       struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	CurrentBidPrice struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"currentBidPrice"`
	Seller struct {
		Username string `json:"username"`
	} `json:"seller"`
	BuyingOptions []string `json:"buyingOptions"`
	BidderSummary struct {
		AmIWinning bool `json:"amIWinning"`
	} `json:"bidderSummary"`
}

func (c *HTTPClient) FetchDetails(ctx context.Context, listingNumber string) (*ItemDetails, error) {
	it, err := c.fetchItem(ctx, listingNumber)
	if err != nil {
		return nil, err
	}

	endTime, err := time.Parse(time.RFC3339, it.ItemEndDate)
	if err != nil {
		return nil, fmt.Errorf("listing %s: no usable end date: %w", listingNumber, err)
	}

	priceStr := it.CurrentBidPrice.Value
	currency := it.CurrentBidPrice.Currency
	if priceStr == "" {
		priceStr = it.Price.Value
		currency = it.Price.Currency
	}
	price, err := auction.ParseMoney(priceStr)
	if err != nil {
		return nil, fmt.Errorf("listing %s: bad price %q: %w", listingNumber, priceStr, err)
	}
	if currency == "" {
		currency = "USD"
	}

	url := it.ItemWebURL
	if url == "" {
		url = "https://www.ebay.com/itm/" + listingNumber
	}
	title := it.Title
	if title == "" {
		title = "Unknown Item"
	}

	biddable := false
	for _, opt := range it.BuyingOptions {
		if strings.EqualFold(opt, "AUCTION") {
			biddable = true
		}
	}

	return &ItemDetails{
		ListingNumber: listingNumber,
		ListingURL:    url,
		ItemTitle:     title,
		SellerName:    it.Seller.Username,
		CurrentPrice:  price,
		Currency:      currency,
		EndTime:       endTime.UTC(),
		IsBiddable:    biddable,
	}, nil
}

func (c *HTTPClient) FetchOutcome(ctx context.Context, listingNumber string) (*Outcome, error) {
	it, err := c.fetchItem(ctx, listingNumber)
	if err != nil {
		return nil, err
	}
	priceStr := it.CurrentBidPrice.Value
	if priceStr == "" {
		priceStr = it.Price.Value
	}
	final, err := auction.ParseMoney(priceStr)
	if err != nil {
		return nil, fmt.Errorf("listing %s: bad final price %q: %w", listingNumber, priceStr, err)
	}
	return &Outcome{Won: it.BidderSummary.AmIWinning, FinalPrice: final}, nil
}

func (c *HTTPClient) fetchItem(ctx context.Context, listingNumber string) (*browseItem, error) {
	if err := c.waitLimiter(ctx); err != nil {
		return nil, err
	}
	token, err := c.tokens.EnsureValid(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	url := c.base + "/buy/browse/v1/item/v1|" + listingNumber + "|0?fieldgroups=FULL"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AppID != "" {
		req.Header.Set("X-EBAY-SOA-SECURITY-APPNAME", c.cfg.AppID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Timeouts and connection failures are all retryable reads.
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuthExpired
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: retryAfterHint(resp), Err: errors.New("browse api 429")}
	case resp.StatusCode >= 500:
		return nil, Transient(fmt.Errorf("browse api status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &RejectionError{Code: strconv.Itoa(resp.StatusCode), Reason: strings.TrimSpace(string(body))}
	}

	var it browseItem
	if err := json.NewDecoder(resp.Body).Decode(&it); err != nil {
		return nil, fmt.Errorf("decode browse item: %w", err)
	}
	c.log.Debug("browse item fetched", logx.String("listing", listingNumber))
	return &it, nil
}

// placeOfferRequest is the Trading API PlaceOffer payload.
type placeOfferRequest struct {
	XMLName xml.Name `xml:"PlaceOfferRequest"`
	Xmlns   string   `xml:"xmlns,attr"`
	Token   string   `xml:"RequesterCredentials>eBayAuthToken"`
	ItemID  string   `xml:"ItemID"`
	Offer   struct {
		MaxBid   string `xml:"MaxBid"`
		Quantity int    `xml:"Quantity"`
	} `xml:"Offer"`
}

type placeOfferResponse struct {
	XMLName xml.Name `xml:"PlaceOfferResponse"`
	Ack     string   `xml:"Ack"`
	Errors  []struct {
		Code      string `xml:"ErrorCode"`
		ShortMsg  string `xml:"ShortMessage"`
		LongMsg   string `xml:"LongMessage"`
		ClassCode string `xml:"ErrorClassificationCode"`
	} `xml:"Errors"`
}

func (c *HTTPClient) PlaceBid(ctx context.Context, listingNumber string, amount auction.Money) error {
	if err := c.waitLimiter(ctx); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	token, err := c.tokens.EnsureValid(ctx, deadline)
	if err != nil {
		return err
	}

	payload := placeOfferRequest{Xmlns: "urn:ebay:apis:eBLBaseComponents", Token: token, ItemID: listingNumber}
	payload.Offer.MaxBid = amount.String()
	payload.Offer.Quantity = 1

	body, err := xml.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/ws/api.dll", strings.NewReader(xml.Header+string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("X-EBAY-SOA-OPERATION-NAME", "PlaceOffer")
	req.Header.Set("X-EBAY-SOA-SERVICE-VERSION", "1.0.0")
	req.Header.Set("Content-Type", "text/xml")
	if c.cfg.AppID != "" {
		req.Header.Set("X-EBAY-SOA-SECURITY-APPNAME", c.cfg.AppID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfterHint(resp), Err: errors.New("trading api 429")}
	case resp.StatusCode >= 500:
		return Transient(fmt.Errorf("trading api status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Transient(err)
	}

	var por placeOfferResponse
	if err := xml.Unmarshal(raw, &por); err != nil {
		return fmt.Errorf("decode PlaceOffer response: %w", err)
	}

	ack := strings.ToLower(por.Ack)
	if ack == "success" || ack == "warning" {
		return nil
	}

	if len(por.Errors) > 0 {
		e := por.Errors[0]
		if strings.EqualFold(e.ClassCode, "SystemError") {
			return Transient(fmt.Errorf("PlaceOffer system error %s: %s", e.Code, e.ShortMsg))
		}
		reason := e.LongMsg
		if reason == "" {
			reason = e.ShortMsg
		}
		return &RejectionError{Code: e.Code, Reason: reason}
	}
	return &RejectionError{Reason: fmt.Sprintf("PlaceOffer ack %q", por.Ack)}
}

func (c *HTTPClient) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func retryAfterHint(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
