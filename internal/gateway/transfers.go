package gateway

import (
	"net/http"

	"github.com/newsieai/newsie/internal/payment"
)

func (s *Server) handleListTransfers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transfers, err := s.service.ListTransfers(r.Context(), queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if transfers == nil {
			transfers = []payment.TransferRecord{}
		}
		writeJSON(w, http.StatusOK, transfers)
	}
}

// BalanceResponse is the JSON response for GET /api/balance.
type BalanceResponse struct {
	Balance float64 `json:"balance"`
}

func (s *Server) handleBalance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		balance, err := s.service.Balance(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
	}
}
