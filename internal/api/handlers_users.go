// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/pathtrace/internal/aggregator"
	"github.com/tomtom215/pathtrace/internal/models"
	"github.com/tomtom215/pathtrace/internal/validation"
)

// Users returns the whole {users, sessions} document, unfiltered and without
// the response envelope. Filtering and summarizing is left to the caller.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).JSON(http.StatusOK, h.aggregator.Snapshot())
}

// User returns one visitor's record.
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	if verr := validation.ValidateVar("id", id, "visitorid"); verr != nil {
		rw.ValidationError(verr)
		return
	}

	rec, err := h.aggregator.Record(models.VisitorToken(id))
	if errors.Is(err, aggregator.ErrUnknownVisitor) {
		rw.NotFound("visitor not found")
		return
	}
	if err != nil {
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "failed to read visitor")
		return
	}
	rw.Success(rec)
}
