package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"simats-hub/internal/middleware"
	"simats-hub/internal/models"
	"simats-hub/internal/notify"
	"simats-hub/internal/service"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	maxBodyBytes  = 64 << 10
	notifyTimeout = 10 * time.Second
)

type FeedbackHandler struct {
	feedback *service.FeedbackService
	notifier notify.Notifier
	log      logrus.FieldLogger

	// include err.Error() in 500 responses
	exposeDetails bool
}

func NewFeedbackHandler(feedback *service.FeedbackService, notifier notify.Notifier, log logrus.FieldLogger, exposeDetails bool) *FeedbackHandler {
	return &FeedbackHandler{
		feedback:      feedback,
		notifier:      notifier,
		log:           log,
		exposeDetails: exposeDetails,
	}
}

// --- POST /feedback ---

func (h *FeedbackHandler) CreateFeedback(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil || !identity.IsUser() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized - Invalid token"})
		return
	}

	var req models.CreateFeedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	feedback, err := h.feedback.CreateFeedback(r.Context(), *identity, req)
	if err != nil {
		h.writeError(w, r, "Failed to create feedback", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"user_id":     identity.UserID,
		"feedback_id": feedback.ID,
	}).Info("feedback created")

	// Notify moderators in the background (non-blocking)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := h.notifier.Publish(ctx, notify.NewFeedbackMessage(feedback)); err != nil {
			h.log.WithError(err).WithField("feedback_id", feedback.ID).Warn("failed to publish feedback notification")
		}
	}()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"feedback": feedback,
	})
}

// --- GET /feedback ---

func (h *FeedbackHandler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	feedback, err := h.feedback.ListFeedback(r.Context())
	if err != nil {
		h.writeError(w, r, "Failed to fetch feedback", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"feedback": feedback,
	})
}

// --- GET /search-feedback?query= ---

func (h *FeedbackHandler) SearchFeedback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")

	results, err := h.feedback.SearchFeedback(r.Context(), query)
	if err != nil {
		h.writeError(w, r, "Failed to search feedback", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"query":   query,
		"results": len(results),
	}).Debug("feedback search")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": results,
	})
}

// --- GET /can-post ---

func (h *FeedbackHandler) CanPost(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil || !identity.IsUser() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized - Invalid token"})
		return
	}

	decision, err := h.feedback.CheckEligibility(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, "Failed to check eligibility", err)
		return
	}

	resp := map[string]interface{}{
		"canPost":       decision.Eligible,
		"daysRemaining": decision.DaysRemaining,
	}
	if at := decision.AvailableAt(); at > 0 {
		resp["availableAt"] = at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FeedbackHandler) writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var cerr *service.CooldownError
	var verr *service.ValidationError

	switch {
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":         "Post restriction",
			"message":       cerr.Error(),
			"daysRemaining": cerr.DaysRemaining,
		})
	case errors.As(err, &verr):
		body := map[string]interface{}{"error": verr.Message}
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		writeJSON(w, http.StatusBadRequest, body)
	default:
		h.log.WithError(err).WithField("request_id", chimw.GetReqID(r.Context())).Error(message)
		body := map[string]interface{}{"error": message}
		if h.exposeDetails {
			body["details"] = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}
