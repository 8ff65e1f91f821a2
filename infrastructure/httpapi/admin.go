package httpapi

import (
	"chat-relay/analytics"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// AdminHandler serves the statistics and audit browsing used by the admin console.
type AdminHandler struct {
	log       *slog.Logger
	snapshots contract.Snapshotter
	audit     contract.AuditLog
}

func NewAdminHandler(log *slog.Logger, snapshots contract.Snapshotter, audit contract.AuditLog) *AdminHandler {
	return &AdminHandler{log: log, snapshots: snapshots, audit: audit}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stats", h.handleStats)
	r.Get("/messages", h.handleMessages)
}

type dayCountResponse struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type statsResponse struct {
	WindowDays    int                `json:"windowDays"`
	Total         int                `json:"total"`
	Flagged       int                `json:"flagged"`
	FlaggedRatio  float64            `json:"flaggedRatio"`
	ActiveSenders int                `json:"activeSenders"`
	DailySeries   []dayCountResponse `json:"dailySeries"`
	GeneratedAt   time.Time          `json:"generatedAt"`
}

type messageResponse struct {
	ID           string          `json:"id"`
	RoomID       string          `json:"roomId"`
	SenderID     string          `json:"senderId"`
	SenderRole   string          `json:"senderRole"`
	Content      string          `json:"content"`
	Flagged      bool            `json:"flagged"`
	MatchedTerms []string        `json:"matchedTerms"`
	Severity     domain.Severity `json:"severity"`
	Lang         string          `json:"lang,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type messagesResponse struct {
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	Messages []messageResponse `json:"messages"`
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	days := analytics.DefaultWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, h.log, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}

	snapshot, err := h.snapshots.Snapshot(r.Context(), domain.Window{Days: days})
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.log, http.StatusOK, statsResponse{
		WindowDays:    snapshot.Window.Days,
		Total:         snapshot.Total,
		Flagged:       snapshot.Flagged,
		FlaggedRatio:  snapshot.FlaggedRatio,
		ActiveSenders: snapshot.ActiveSenders,
		DailySeries: lo.Map(snapshot.DailySeries, func(d domain.DayCount, _ int) dayCountResponse {
			return dayCountResponse{Day: d.Day.Format(time.DateOnly), Count: d.Count}
		}),
		GeneratedAt: snapshot.GeneratedAt,
	})
}

func (h *AdminHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseMessagesQuery(r)
	if err != nil {
		respondError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	total, err := h.audit.Count(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	records, err := h.audit.List(r.Context(), filter, page)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.log, http.StatusOK, messagesResponse{
		Total:    total,
		Limit:    page.Limit,
		Offset:   page.Offset,
		Messages: lo.Map(records, func(m domain.MessageRecord, _ int) messageResponse { return toMessageResponse(m) }),
	})
}

func parseMessagesQuery(r *http.Request) (domain.Filter, domain.Page, error) {
	q := r.URL.Query()
	filter := domain.Filter{
		RoomID:   domain.RoomID(q.Get("room")),
		SenderID: q.Get("sender"),
		Query:    q.Get("q"),
	}
	page := domain.Page{Limit: defaultPageSize}

	if raw := q.Get("flagged"); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, page, fmt.Errorf("flagged must be true or false")
		}
		filter.Flagged = &flagged
	}
	for name, target := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, page, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
			}
			*target = t
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			return filter, page, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
		page.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, page, fmt.Errorf("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	return filter, page, nil
}

func toMessageResponse(m domain.MessageRecord) messageResponse {
	return messageResponse{
		ID:           m.ID,
		RoomID:       string(m.RoomID),
		SenderID:     m.Sender.UserID,
		SenderRole:   string(m.Sender.Role),
		Content:      m.Content,
		Flagged:      m.Classification.Flagged,
		MatchedTerms: lo.Ternary(m.Classification.MatchedTerms == nil, []string{}, m.Classification.MatchedTerms),
		Severity:     m.Classification.Severity,
		Lang:         m.Classification.Lang,
		CreatedAt:    m.CreatedAt,
	}
}

func (h *AdminHandler) fail(w http.ResponseWriter, err error) {
	if stderrors.Is(err, errors.ErrInvalidWindow) {
		respondError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error("Admin request failed", "error", err)
	respondError(w, h.log, http.StatusInternalServerError, "internal error")
}
