package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) registerTransactions(r *mux.Router) {
	route(r, http.MethodPost, "/Transactions/Start", s.startTransaction)
	route(r, http.MethodPost, "/Transactions/Append", s.appendTransaction)
	route(r, http.MethodPost, "/Transactions/Commit", s.commitTransaction)
	route(r, http.MethodPost, "/Transactions/Cancel", s.cancelTransaction)
}

type transactionRef struct {
	TransactionID string `json:"transactionId"`
}

func (s *Server) startTransaction(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, transactionRef{TransactionID: s.Transactions.Start()})
}

func (s *Server) appendTransaction(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Transactions.Append(query(r, "transactionId"), body); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) commitTransaction(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	if err := s.Transactions.Commit(query(r, "transactionId"), period(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	if err := s.Transactions.Cancel(query(r, "transactionId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
