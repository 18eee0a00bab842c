package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/npezzotti/go-myclean/internal/booking"
	"github.com/npezzotti/go-myclean/internal/chat"
	"github.com/npezzotti/go-myclean/internal/database"
	"github.com/npezzotti/go-myclean/internal/types"
)

const (
	notificationLimit = 50
	healthCheckWait   = 2 * time.Second
)

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type SendMessageRequest struct {
	BookingId  int    `json:"booking_id"`
	ReceiverId int    `json:"receiver_id"`
	Content    string `json:"content"`
}

// BookingResponse adds the display price to a booking.
type BookingResponse struct {
	types.Booking
	TotalPriceDisplay string `json:"total_price"`
}

func newBookingResponse(b types.Booking) BookingResponse {
	return BookingResponse{Booking: b, TotalPriceDisplay: b.TotalPrice.String()}
}

func (s *MyCleanApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *MyCleanApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := NewAppError(err)
	if k := apperror.KindOf(err); k == apperror.Internal || k == apperror.Unavailable {
		s.log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func pathId(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, apperror.InvalidArgumentf("%s must be a positive integer", name)
	}
	return id, nil
}

// identity is set by authMiddleware on every route that calls this.
func identity(r *http.Request) types.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

func (s *MyCleanApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckWait)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, r, apperror.Wrap(apperror.Unavailable, err, "database unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *MyCleanApp) createBooking(w http.ResponseWriter, r *http.Request) {
	actor := identity(r)

	var params booking.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if params.CustomerId == 0 {
		params.CustomerId = actor.UserId
	}

	b, err := s.bookings.Create(r.Context(), actor, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, newBookingResponse(b))
}

func (s *MyCleanApp) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := booking.ListParams{
		Role:   types.Role(strings.ToUpper(q.Get("role"))),
		Status: types.BookingStatus(strings.ToUpper(q.Get("status"))),
	}
	if params.Role != "" && params.Role != types.RoleCustomer && params.Role != types.RoleProvider {
		errResp := NewBadRequestError("role must be customer or provider")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	bookings, err := s.bookings.List(r.Context(), identity(r), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		resp = append(resp, newBookingResponse(b))
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *MyCleanApp) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	b, err := s.bookings.Get(r.Context(), id, identity(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, newBookingResponse(b))
}

func (s *MyCleanApp) updateBookingStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	status := types.BookingStatus(strings.ToUpper(req.Status))
	b, err := s.bookings.Transition(r.Context(), id, status, identity(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, newBookingResponse(b))
}

func (s *MyCleanApp) deleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.bookings.Delete(r.Context(), id, identity(r)); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *MyCleanApp) getMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	messages, err := s.channel.History(r.Context(), id, identity(r).UserId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *MyCleanApp) markMessagesRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.gateway.MarkRead(r.Context(), id, identity(r).UserId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int{"updated": n})
}

// sendMessage persists a message and pushes it live, exactly as a
// send_message event on the websocket would.
func (s *MyCleanApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.gateway.SendMessage(r.Context(), chat.SendParams{
		BookingId:  req.BookingId,
		SenderId:   identity(r).UserId,
		ReceiverId: req.ReceiverId,
		Content:    req.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func toNotification(n database.Notification) types.Notification {
	return types.Notification{
		Id:        n.Id,
		UserId:    n.UserId,
		Type:      types.NotificationType(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		Link:      n.Link,
		CreatedAt: n.CreatedAt,
	}
}

func (s *MyCleanApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.db.ListNotifications(r.Context(), identity(r).UserId, notificationLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]types.Notification, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, toNotification(n))
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *MyCleanApp) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.db.MarkNotificationRead(r.Context(), id, identity(r).UserId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, toNotification(n))
}

func (s *MyCleanApp) getPresence(w http.ResponseWriter, r *http.Request) {
	userId, err := pathId(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"user_id": userId,
		"online":  s.gateway.IsOnline(userId),
	})
}

func (s *MyCleanApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.gateway.Serve(conn, identity(r))
}
