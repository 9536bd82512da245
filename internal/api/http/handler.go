package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/repository"
	"shelfshare-backend/internal/security"
	"shelfshare-backend/internal/service"
	"shelfshare-backend/internal/validation"
)

// Handler exposes the lending service over REST.
type Handler struct {
	lending       service.LendingService
	notes         service.NoteReader
	notifications service.NotificationService
	users         repository.UserRepository
	validate      *validation.Validator
}

func NewHandler(lending service.LendingService, notes service.NoteReader, notifications service.NotificationService, users repository.UserRepository) *Handler {
	return &Handler{
		lending:       lending,
		notes:         notes,
		notifications: notifications,
		users:         users,
		validate:      validation.New(),
	}
}

// NewRouter builds the router with all routes and middleware registered.
// A nil token manager trusts the X-Username header.
func NewRouter(h *Handler, tokens security.TokenManager) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogMiddleware, identityMiddleware(tokens))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the lending endpoints
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.Health).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users", h.RegisterUser).Methods("POST")

	api.HandleFunc("/books", h.AddBook).Methods("POST")
	api.HandleFunc("/books/available", h.ListAvailable).Methods("GET")
	api.HandleFunc("/books/mine", h.ListMine).Methods("GET")
	api.HandleFunc("/books/borrowed", h.ListBorrowed).Methods("GET")
	api.HandleFunc("/books/filter", h.FilterBooks).Methods("GET")
	api.HandleFunc("/books/{id:[0-9]+}", h.GetBook).Methods("GET")
	api.HandleFunc("/books/{id:[0-9]+}/notes", h.ListNotes).Methods("GET")
	api.HandleFunc("/books/{id:[0-9]+}/enlist", h.EnlistBook).Methods("POST")
	api.HandleFunc("/books/{id:[0-9]+}/borrow", h.BorrowBook).Methods("POST")
	api.HandleFunc("/books/{id:[0-9]+}/requests/approve", h.ApproveRequest).Methods("POST")
	api.HandleFunc("/books/{id:[0-9]+}/requests/reject", h.RejectRequest).Methods("POST")

	api.HandleFunc("/requests/sent", h.ListSent).Methods("GET")
	api.HandleFunc("/requests/received", h.ListReceived).Methods("GET")

	api.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	api.HandleFunc("/notifications/{id:[0-9]+}/read", h.MarkNotificationRead).Methods("POST")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Name     string `json:"name" validate:"max=128"`
	Email    string `json:"email" validate:"omitempty,email"`
	Area     string `json:"area"`
	City     string `json:"city"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Pincode  string `json:"pincode"`
}

// RegisterUser creates a user record. Credentials are handled upstream.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	u := &domain.User{
		Username: req.Username,
		Name:     req.Name,
		Email:    req.Email,
		Area:     req.Area,
		City:     req.City,
		State:    req.State,
		Country:  req.Country,
		Pincode:  req.Pincode,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, repository.ErrConcurrencyConflict) {
			writeError(w, r, apperrors.Conflictf(apperrors.ReasonUsernameTaken, "username %q is taken", req.Username))
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) AddBook(w http.ResponseWriter, r *http.Request) {
	username, ok := h.caller(w, r)
	if !ok {
		return
	}
	var input service.NewBookInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	book, err := h.lending.AddNewBook(r.Context(), input, username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) EnlistBook(w http.ResponseWriter, r *http.Request) {
	username, ok := h.caller(w, r)
	if !ok {
		return
	}
	bookID, ok := pathID(w, r)
	if !ok {
		return
	}
	var note *service.NoteInput
	var body service.NoteInput
	present, err := decodeOptionalJSON(r, &body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if present && body.Content != "" {
		note = &body
	}
	book, err := h.lending.EnlistBook(r.Context(), bookID, username, note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) BorrowBook(w http.ResponseWriter, r *http.Request) {
	username, ok := h.caller(w, r)
	if !ok {
		return
	}
	bookID, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.lending.BorrowBook(r.Context(), bookID, username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type resolveRequest struct {
	RequesterID int32 `json:"requester_id"`
}

// resolveArgs reads the book id, requester id and the caller's user id for approve and reject.
func (h *Handler) resolveArgs(w http.ResponseWriter, r *http.Request) (bookID, requesterID, ownerID int32, ok bool) {
	username, ok := h.caller(w, r)
	if !ok {
		return 0, 0, 0, false
	}
	if bookID, ok = pathID(w, r); !ok {
		return 0, 0, 0, false
	}
	var body resolveRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return 0, 0, 0, false
	}
	if body.RequesterID <= 0 {
		writeError(w, r, apperrors.Validation("requester_id is required"))
		return 0, 0, 0, false
	}
	owner, err := h.userID(r.Context(), username)
	if err != nil {
		writeError(w, r, err)
		return 0, 0, 0, false
	}
	return bookID, body.RequesterID, owner, true
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	bookID, requesterID, ownerID, ok := h.resolveArgs(w, r)
	if !ok {
		return
	}
	book, err := h.lending.ApproveBorrowRequest(r.Context(), bookID, requesterID, ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	bookID, requesterID, ownerID, ok := h.resolveArgs(w, r)
	if !ok {
		return
	}
	req, err := h.lending.RejectBorrowRequest(r.Context(), bookID, requesterID, ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(w, r)
	if !ok {
		return
	}
	book, err := h.lending.GetBook(r.Context(), bookID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// ListNotes returns the notes recorded against a book, oldest first.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.lending.GetBook(r.Context(), bookID); err != nil {
		writeError(w, r, err)
		return
	}
	notes, err := h.notes.ListByBook(r.Context(), bookID)
	if err != nil {
		writeError(w, r, apperrors.Internal(err, "list notes"))
		return
	}
	writeJSON(w, http.StatusOK, newList(notes))
}

func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	books, err := h.lending.GetAllAvailableBooks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(books))
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	h.listForCaller(w, r, h.lending.GetMyBooks)
}

func (h *Handler) ListBorrowed(w http.ResponseWriter, r *http.Request) {
	h.listForCaller(w, r, h.lending.GetBooksBorrowed)
}

func (h *Handler) listForCaller(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]domain.Book, error)) {
	username, ok := h.caller(w, r)
	if !ok {
		return
	}
	books, err := list(r.Context(), username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(books))
}

func (h *Handler) FilterBooks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	books, err := h.lending.FilterBooks(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(books))
}

func parseFilter(r *http.Request) (domain.BookFilter, error) {
	q := r.URL.Query()
	f := domain.BookFilter{
		Author:        q.Get("author"),
		OwnerUsername: q.Get("owner"),
		State:         q.Get("state"),
		Country:       q.Get("country"),
		Area:          q.Get("area"),
		City:          q.Get("city"),
		Pincode:       q.Get("pincode"),
	}
	if v := q.Get("genre"); v != "" {
		g, err := domain.ParseBookGenre(v)
		if err != nil {
			return f, apperrors.Validation(err.Error())
		}
		f.Genre = g
	}
	if v := q.Get("status"); v != "" {
		s, err := domain.ParseBookStatus(v)
		if err != nil {
			return f, apperrors.Validation(err.Error())
		}
		f.Status = s
	}
	if v := q.Get("enlisted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, apperrors.Validationf("invalid enlisted value %q", v)
		}
		f.Enlisted = &b
	}
	return f, nil
}

func (h *Handler) ListSent(w http.ResponseWriter, r *http.Request) {
	h.requestsForCaller(w, r, h.lending.ListSentRequests)
}

func (h *Handler) ListReceived(w http.ResponseWriter, r *http.Request) {
	h.requestsForCaller(w, r, h.lending.ListReceivedRequests)
}

func (h *Handler) requestsForCaller(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]domain.BorrowRequest, error)) {
	username, ok := h.caller(w, r)
	if !ok {
		return
	}
	reqs, err := list(r.Context(), username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(reqs))
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	username, ok := h.caller(w, r)
	if !ok {
		return
	}
	page := queryInt32(r, "page", 1)
	pageSize := queryInt32(r, "page_size", 20)
	items, total, err := h.notifications.GetNotifications(r.Context(), username, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := newList(items)
	resp.Total = total
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	username, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.notifications.MarkAsRead(r.Context(), username, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// caller returns the authenticated username or writes a 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Code: codeUnauthenticated, Message: "caller identity is required"})
		return "", false
	}
	return username, true
}

func (h *Handler) userID(ctx context.Context, username string) (int32, error) {
	u, err := h.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, apperrors.NotFoundf(apperrors.ReasonUserNotFound, "user %q not found", username)
	}
	if err != nil {
		return 0, apperrors.Internal(err, "look up caller")
	}
	return u.ID, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int32, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		writeError(w, r, apperrors.Validationf("invalid id %q", mux.Vars(r)["id"]))
		return 0, false
	}
	return int32(id), true
}

func queryInt32(r *http.Request, key string, def int32) int32 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 32)
	if err != nil || v <= 0 {
		return def
	}
	return int32(v)
}
