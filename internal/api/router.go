/**
 * @description
 * This file sets up the HTTP router for the escrow-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// EscrowRoutes creates and returns a new router for the escrow service.
func EscrowRoutes(h *EscrowHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		// Apply JWT authentication middleware for production
		r.Use(AuthMiddleware(jwksURL))

		// Request/fulfillment desk endpoints.
		r.Post("/requests", h.SubmitRequestHandler)
		r.Get("/requests", h.ListRequestsHandler)
		r.Get("/requests/open", h.ListOpenRequestsHandler)
		r.Get("/requests/mine", h.ListMyOpenRequestsHandler)
		r.Get("/requests/reserved", h.ReservedTotalHandler)
		r.Get("/requests/{id}", h.GetRequestHandler)
		r.Post("/requests/{id}/admin-complete", h.AdminCompleteRequestHandler)
		r.Post("/requests/{id}/completion", h.SubmitCompletionHandler)
		r.Post("/requests/{id}/approve", h.ApproveCompletionHandler)
		r.Post("/requests/{id}/reject", h.RejectCompletionHandler)
		r.Post("/desk/withdraw", h.DeskWithdrawHandler)

		// Contribution/validation desk endpoints.
		r.Post("/contributions", h.SubmitContributionHandler)
		r.Get("/contributions", h.ListContributionsHandler)
		r.Get("/contributions/{id}", h.GetContributionHandler)
		r.Get("/contributions/{id}/votes", h.GetVotesHandler)
		r.Post("/contributions/{id}/votes", h.CastVoteHandler)
		r.Post("/contributions/{id}/finalize", h.FinalizeContributionHandler)
		r.Post("/contributions/{id}/claim", h.ClaimRewardHandler)
		r.Post("/contributions/deposit", h.DepositToPoolHandler)
		r.Get("/contributors/top", h.TopContributorsHandler)
		r.Get("/contributors/{address}", h.ContributorStatsHandler)

		// Validator panel administration.
		r.Get("/panel/validators", h.ListValidatorsHandler)
		r.Post("/panel/validators", h.AddValidatorHandler)
		r.Delete("/panel/validators", h.RemoveValidatorHandler)
		r.Put("/panel/quorum", h.SetQuorumHandler)
		r.Put("/panel/review-period", h.SetReviewPeriodHandler)
		r.Get("/panel/settings", h.DeskSettingsHandler)

		// Community pool endpoints.
		r.Get("/pool/balance", h.PoolBalanceHandler)
		r.Post("/pool/deposit", h.PoolDepositHandler)
		r.Post("/pool/withdraw", h.PoolWithdrawHandler)
		r.Post("/pool/emergency-withdraw", h.PoolEmergencyWithdrawHandler)
		r.Put("/pool/address", h.SetPoolAddressHandler)
	})

	return r
}
