package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/custodia/escrow-service/internal/app"
	"github.com/custodia/escrow-service/internal/store"
)

func TestWriteServiceError_StatusMapping(t *testing.T) {
	h := NewEscrowHandlers(nil)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation error", app.ErrEmptyQuery, http.StatusBadRequest},
		{"authorization error", app.ErrNotRequester, http.StatusForbidden},
		{"missing entity", store.ErrRequestNotFound, http.StatusNotFound},
		{"state conflict", app.ErrAlreadyFulfilled, http.StatusConflict},
		{"duplicate vote", store.ErrAlreadyVoted, http.StatusConflict},
		{"settlement guard", app.ErrSettlementInProgress, http.StatusConflict},
		{"underfunded pool", app.ErrPoolUnderfunded, http.StatusPaymentRequired},
		{"reservation exceeded", app.ErrReservationExceeded, http.StatusPaymentRequired},
		{"rate limited", app.ErrRateLimited, http.StatusTooManyRequests},
		{"wrapped service error", fmt.Errorf("approve completion: %w", app.ErrNotUnderReview), http.StatusConflict},
		{"unknown error", errors.New("pool on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestEntityID_Parsing(t *testing.T) {
	h := NewEscrowHandlers(nil)

	tests := []struct {
		name   string
		param  string
		wantID int64
		wantOK bool
	}{
		{"valid id", "7", 7, true},
		{"zero id", "0", 0, true},
		{"negative id", "-1", 0, false},
		{"non-numeric", "abc", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.param)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			rec := httptest.NewRecorder()

			id, ok := h.entityID(rec, req)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if id != tt.wantID {
				t.Fatalf("expected id %d, got %d", tt.wantID, id)
			}
			if !tt.wantOK && rec.Code != http.StatusBadRequest {
				t.Fatalf("expected a 400 on invalid id, got %d", rec.Code)
			}
		})
	}
}

func TestListOptions_Parsing(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"both set", "limit=10&offset=20", 10, 20},
		{"missing params default to zero", "", 0, 0},
		{"malformed limit ignored", "limit=abc&offset=5", 0, 5},
		{"malformed offset ignored", "limit=5&offset=abc", 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			opts := listOptions(req)
			if opts.Limit != tt.wantLimit || opts.Offset != tt.wantOffset {
				t.Fatalf("expected {%d %d}, got {%d %d}", tt.wantLimit, tt.wantOffset, opts.Limit, opts.Offset)
			}
		})
	}
}
