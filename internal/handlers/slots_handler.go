package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/paidcall/backend/internal/services"
	"github.com/paidcall/backend/internal/slots"
)

// SlotsHandler exposes the availability helpers used by booking forms.
type SlotsHandler struct {
	Validator BodyValidator
	Logger    *slog.Logger
}

func NewSlotsHandler(v BodyValidator, log *slog.Logger) *SlotsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SlotsHandler{Validator: v, Logger: log}
}

type mergeRequest struct {
	Ranges []slots.Range `json:"ranges"`
}

type rangesResponse struct {
	Ranges []slots.Range `json:"ranges"`
}

// Merge handles POST /api/v1/slots/merge.
func (h *SlotsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeBody(r, h.Validator, services.SchemaSlotsMerge, &req, false); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	merged, err := slots.MergeAdjacent(req.Ranges)
	if err != nil {
		writeSlotsError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rangesResponse{Ranges: nonNil(merged)})
}

type splitRequest struct {
	Range       slots.Range `json:"range"`
	UnitMinutes int         `json:"unit_minutes"`
}

// Split handles POST /api/v1/slots/split.
func (h *SlotsHandler) Split(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := decodeBody(r, h.Validator, services.SchemaSlotsSplit, &req, false); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	units, err := slots.Split(req.Range, req.UnitMinutes)
	if err != nil {
		writeSlotsError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rangesResponse{Ranges: nonNil(units)})
}

func writeSlotsError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, slots.ErrInvalidTimezone),
		errors.Is(err, slots.ErrInvalidTime),
		errors.Is(err, slots.ErrEmptyRange),
		errors.Is(err, slots.ErrInvalidUnit):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, log, err)
	}
}

func nonNil(rs []slots.Range) []slots.Range {
	if rs == nil {
		return []slots.Range{}
	}
	return rs
}
