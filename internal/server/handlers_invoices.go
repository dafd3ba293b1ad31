package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/invoice"
	"github.com/quantumlife/timeledger/pkg/errs"
)

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryUUID(r, "project_id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	invoices, err := s.stores.Invoices.List(r.Context(), userID(r), projectID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]invoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, viewInvoice(inv))
	}
	s.respond(w, http.StatusOK, map[string]any{"invoices": views})
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID     uuid.UUID `json:"project_id"`
		PeriodStart   string    `json:"period_start"`
		PeriodEnd     string    `json:"period_end"`
		InvoiceNumber string    `json:"invoice_number"`
		InvoiceDate   string    `json:"invoice_date"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if req.ProjectID == uuid.Nil {
		s.renderError(w, r, errs.Validation("invalid_id", "project_id is required"))
		return
	}
	start, err := parseDate("invalid_period", req.PeriodStart)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	end, err := parseDate("invalid_period", req.PeriodEnd)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	invoiceDate, err := parseDate("invalid_invoice_date", req.InvoiceDate)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	inv, err := s.invoices.Create(r.Context(), userID(r), invoice.CreateParams{
		ProjectID:     req.ProjectID,
		PeriodStart:   start,
		PeriodEnd:     end,
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   invoiceDate,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, viewInvoice(inv))
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	inv, err := s.stores.Invoices.GetByID(r.Context(), userID(r), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewInvoice(inv))
}

func (s *Server) handleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	inv, err := s.invoices.UpdateStatus(r.Context(), userID(r), id, req.Status)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewInvoice(inv))
}

func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.invoices.Delete(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}
