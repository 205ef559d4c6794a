package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jredh-dev/goodwill/internal/evidence"
	"github.com/jredh-dev/goodwill/internal/lifecycle"
	"github.com/jredh-dev/goodwill/pkg/models"
)

// CreateDonation accepts a multipart form: a "data" field holding the
// listing as JSON and one or more "photos" files.
func (h *Handler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, lifecycle.Validation("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var fields models.DonationFields
	if err := json.Unmarshal([]byte(r.FormValue("data")), &fields); err != nil {
		writeError(w, r, lifecycle.Validation("invalid data field: %v", err))
		return
	}

	photos, err := readUploads(r, "photos")
	if err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.engine.CreateDonation(r.Context(), mustActor(r), fields, photos)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonCreated(w, d)
}

func readUploads(r *http.Request, field string) ([]evidence.Upload, error) {
	headers := r.MultipartForm.File[field]
	uploads := make([]evidence.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, lifecycle.Validation("open %s: %v", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, lifecycle.Validation("read %s: %v", fh.Filename, err)
		}
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		uploads = append(uploads, evidence.Upload{
			Filename:    fh.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}
	return uploads, nil
}

// BrowseDonations lists donations open for requests, filtered by the
// optional q, category, condition, limit and offset query parameters.
func (h *Handler) BrowseDonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.DonationFilter{
		Query:     q.Get("q"),
		Category:  models.ItemCategory(q.Get("category")),
		Condition: models.ItemCondition(q.Get("condition")),
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, err)
		return
	}

	donations, err := h.engine.Browse(r.Context(), mustActor(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, donations)
}

// MyDonations lists the caller's own donations.
func (h *Handler) MyDonations(w http.ResponseWriter, r *http.Request) {
	donations, err := h.engine.MyDonations(r.Context(), mustActor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, donations)
}

// GetDonation returns the detail view.
func (h *Handler) GetDonation(w http.ResponseWriter, r *http.Request) {
	detail, err := h.engine.GetDonation(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, detail)
}

// DonationHistory returns the status ledger.
func (h *Handler) DonationHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.History(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, history)
}

// RequestHistory returns a request's ledger.
func (h *Handler) RequestHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.RequestHistory(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, history)
}

// SubmitRequest records the caller's request for a donation.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.SubmitRequest(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonCreated(w, req)
}

// AcceptRequest binds one request to the caller's donation.
func (h *Handler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID string `json:"requestId"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.RequestID == "" {
		writeError(w, r, lifecycle.Validation("requestId is required"))
		return
	}

	d, err := h.engine.AcceptRequest(r.Context(), mustActor(r), chi.URLParam(r, "id"), body.RequestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, d)
}

// UpdateStatus moves a donation along the lifecycle.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := models.ParseDonationStatus(body.Status)
	if err != nil {
		writeError(w, r, lifecycle.Validation("%v", err))
		return
	}

	d, err := h.engine.UpdateStatus(r.Context(), mustActor(r), chi.URLParam(r, "id"), status, body.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, d)
}

// ConfirmDelivery stores delivery evidence and marks the donation delivered.
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipientSignature string   `json:"recipientSignature"`
		DeliveryPhotos     []string `json:"deliveryPhotos"`
		Notes              string   `json:"notes"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.engine.ConfirmDelivery(r.Context(), mustActor(r), chi.URLParam(r, "id"), evidence.Submission{
		Photos:    body.DeliveryPhotos,
		Signature: body.RecipientSignature,
		Notes:     body.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"donation": d,
		"message":  fmt.Sprintf("Delivery of %q confirmed", d.Title),
	})
}
