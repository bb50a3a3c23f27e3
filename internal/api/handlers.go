package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"snipebot/internal/auction"
	"snipebot/internal/ebay"
	"snipebot/internal/eventbus"
	"snipebot/internal/store"
	"snipebot/pkg/client"
	logx "snipebot/pkg/logx"
)

type authRequest struct {
	Password string `json:"password"`
}

type addRequest struct {
	// Listing accepts a bare item number or a full listing URL.
	Listing string `json:"listing"`
	MaxBid  string `json:"max_bid"`
}

type bulkRequest struct {
	Items []addRequest `json:"items"`
}

type bulkItemResult struct {
	Listing string       `json:"listing"`
	Error   string       `json:"error,omitempty"`
	Auction *auctionView `json:"auction,omitempty"`
}

type auctionView struct {
	ID            string `json:"id"`
	ListingNumber string `json:"listing_number"`
	ListingURL    string `json:"listing_url,omitempty"`
	ItemTitle     string `json:"item_title,omitempty"`
	SellerName    string `json:"seller_name,omitempty"`
	CurrentPrice  string `json:"current_price"`
	MaxBid        string `json:"max_bid"`
	Currency      string `json:"currency,omitempty"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	StatusDetail  string `json:"status_detail,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	FinalPrice    string `json:"final_price,omitempty"`
}

func viewOf(a *auction.Auction) *auctionView {
	v := &auctionView{
		ID:            a.ID,
		ListingNumber: a.ListingNumber,
		ListingURL:    a.ListingURL,
		ItemTitle:     a.ItemTitle,
		SellerName:    a.SellerName,
		CurrentPrice:  a.CurrentPrice.String(),
		MaxBid:        a.MaxBid.String(),
		Currency:      a.Currency,
		EndTime:       a.EndTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Status:        string(a.Status),
		StatusDetail:  a.StatusDetail,
	}
	if a.Outcome != "" && a.Outcome != auction.OutcomePending {
		v.Outcome = string(a.Outcome)
		v.FinalPrice = a.FinalPrice.String()
	}
	return v
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !s.passwordOK(req.Password) {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	tok, err := s.issueToken(s.clk.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	view, code, msg := s.addOne(r, req)
	if msg != "" {
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "no items")
		return
	}

	results := make([]bulkItemResult, 0, len(req.Items))
	for _, item := range req.Items {
		res := bulkItemResult{Listing: item.Listing}
		view, _, msg := s.addOne(r, item)
		if msg != "" {
			res.Error = msg
		} else {
			res.Auction = view
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// addOne validates and schedules a single snipe. Returns (view, httpCode,
// errorMessage); errorMessage is empty on success.
func (s *Server) addOne(r *http.Request, req addRequest) (*auctionView, int, string) {
	listing, err := client.ParseListing(req.Listing)
	if err != nil {
		return nil, http.StatusBadRequest, err.Error()
	}
	maxBid, err := auction.ParseMoney(req.MaxBid)
	if err != nil {
		return nil, http.StatusBadRequest, "max_bid: " + err.Error()
	}
	if maxBid <= 0 {
		return nil, http.StatusBadRequest, "max_bid must be positive"
	}

	details, err := s.client.FetchDetails(r.Context(), listing)
	if err != nil {
		if errors.Is(err, ebay.ErrNotFound) {
			return nil, http.StatusNotFound, "listing not found"
		}
		s.log.Warn("listing lookup failed", logx.String("listing", listing), logx.Err(err))
		return nil, http.StatusBadGateway, "listing lookup failed"
	}

	now := s.clk.Now()
	if !details.EndTime.After(now) {
		return nil, http.StatusConflict, "auction already ended"
	}
	if !details.IsBiddable {
		return nil, http.StatusConflict, "listing does not accept bids"
	}
	if maxBid <= details.CurrentPrice {
		return nil, http.StatusConflict, "max_bid must exceed current price"
	}

	a := &auction.Auction{
		ID:               uuid.NewString(),
		ListingNumber:    details.ListingNumber,
		ListingURL:       details.ListingURL,
		ItemTitle:        details.ItemTitle,
		SellerName:       details.SellerName,
		CurrentPrice:     details.CurrentPrice,
		MaxBid:           maxBid,
		Currency:         details.Currency,
		EndTime:          details.EndTime,
		LastPriceRefresh: now,
		Status:           auction.StatusScheduled,
		Outcome:          auction.OutcomePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.st.CreateAuction(r.Context(), a); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, http.StatusConflict, "listing already scheduled"
		}
		s.log.Error("auction create failed", logx.String("listing", listing), logx.Err(err))
		return nil, http.StatusInternalServerError, "could not save auction"
	}

	s.log.Info("snipe scheduled",
		logx.String("auction", a.ID),
		logx.String("listing", a.ListingNumber),
		logx.String("max_bid", maxBid.String()),
		logx.Time("end_time", a.EndTime))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeAuctionAdded,
			Time: now,
			Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber, "max_bid": maxBid.String()},
		})
	}
	return viewOf(a), 0, ""
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.st.ListAuctions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	views := make([]*auctionView, 0, len(items))
	for _, a := range items {
		if s.refr != nil {
			a = s.refr.RefreshIfStale(r.Context(), a)
		}
		views = append(views, viewOf(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": views})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	a, err := s.fetchByIDOrListing(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	// Refresh-on-read keeps the shown price current; a stale copy is
	// returned when the marketplace is unreachable.
	if s.refr != nil {
		a = s.refr.RefreshIfStale(r.Context(), a)
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	a, err := s.fetchByIDOrListing(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	ok, err := s.st.Transition(r.Context(), a.ID, auction.StatusScheduled, auction.StatusCancelled, "cancelled by operator")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "auction is no longer cancellable")
		return
	}
	s.log.Info("snipe cancelled", logx.String("auction", a.ID), logx.String("listing", a.ListingNumber))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeAuctionCancelled,
			Time: s.clk.Now(),
			Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber},
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(auction.StatusCancelled)})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	a, err := s.fetchByIDOrListing(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	att, err := s.st.GetAttempt(r.Context(), a.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"auction_id": a.ID, "attempt": nil})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": a.ID,
		"attempt": map[string]string{
			"time":   att.AttemptTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			"result": string(att.Result),
			"error":  att.ErrorMessage,
		},
	})
}

// fetchByIDOrListing resolves the {id} path segment as an auction id first,
// then as a listing number, so both forms work in the CLI.
func (s *Server) fetchByIDOrListing(r *http.Request) (*auction.Auction, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	a, err := s.st.GetAuction(r.Context(), id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.st.GetByListing(r.Context(), id)
}
