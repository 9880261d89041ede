package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/auth"
	"chatrelay/internal/db"
	"chatrelay/internal/models"
	"chatrelay/internal/websocket"
)

// UserStore is the part of the store the HTTP surface needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetAllUsers(ctx context.Context) ([]models.User, error)
}

type Handlers struct {
	users        UserStore
	hub          *websocket.Hub
	tokens       *auth.TokenManager
	verifier     *auth.IdentityVerifier
	hasher       *auth.PasswordHasher
	logger       *zap.Logger
	clientOrigin string
	tokenTTL     time.Duration
	upgrader     gorilla.Upgrader
}

type Config struct {
	Users        UserStore
	Hub          *websocket.Hub
	Tokens       *auth.TokenManager
	Verifier     *auth.IdentityVerifier
	Hasher       *auth.PasswordHasher
	Logger       *zap.Logger
	ClientOrigin string
	TokenTTL     time.Duration
}

func NewHandlers(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		users:        cfg.Users,
		hub:          cfg.Hub,
		tokens:       cfg.Tokens,
		verifier:     cfg.Verifier,
		hasher:       cfg.Hasher,
		logger:       logger.Named("api"),
		clientOrigin: cfg.ClientOrigin,
		tokenTTL:     cfg.TokenTTL,
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.allowedOrigin,
	}
	return h
}

// Routes wires every endpoint. The websocket endpoint bypasses CORS.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", h.HandleRegister)
	mux.HandleFunc("/api/auth/login", h.HandleLogin)
	mux.HandleFunc("/api/auth/verify", h.HandleVerify)
	mux.HandleFunc("/api/auth/logout", h.HandleLogout)
	mux.HandleFunc("/api/users", h.HandleUsers)
	mux.HandleFunc("/api/messages", h.HandleMessages)
	mux.HandleFunc("/", h.HandleRoot)

	api := h.WithCORS(mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			h.HandleWebSocket(w, r)
			return
		}
		api.ServeHTTP(w, r)
	})
}

// allowedOrigin accepts non-browser clients and the configured origin.
func (h *Handlers) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.clientOrigin == "*" || origin == h.clientOrigin
}

func (h *Handlers) WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.allowedOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Server running"))
}

// Auth handlers

func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := models.ValidateCredentials(req.Username, req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashed, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Password:  hashed,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			writeError(w, http.StatusBadRequest, "Username already exists")
			return
		}
		h.logger.Error("failed to create user", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	h.respondWithToken(w, user, http.StatusCreated)
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if !errors.Is(err, db.ErrUserNotFound) {
			h.logger.Error("failed to look up user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !h.hasher.Verify(req.Password, user.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.respondWithToken(w, user, http.StatusOK)
}

func (h *Handlers) respondWithToken(w http.ResponseWriter, user *models.User, status int) {
	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.tokenTTL.Seconds()),
	})
	writeJSON(w, status, models.AuthResponse{ID: user.ID, Username: user.Username, Token: token})
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, err := h.verifier.Verify(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUsers lists every registered user with live presence.
func (h *Handlers) HandleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	users, err := h.users.GetAllUsers(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load users")
		return
	}
	online, err := h.hub.OnlineUsers(r.Context())
	if err != nil {
		h.logger.Error("failed to read presence", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Failed to load users")
		return
	}

	connections := make(map[string]string, len(online))
	for _, u := range online {
		connections[u.UserID] = u.ConnectionID
	}

	response := make([]models.UserStatus, 0, len(users))
	for _, user := range users {
		status := models.UserStatus{UserID: user.ID, Username: user.Username}
		if connID, ok := connections[user.ID]; ok {
			status.ConnectionID = &connID
			status.Online = true
		}
		response = append(response, status)
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleMessages returns history. A valid bearer token widens the result to
// the caller's whispers; an invalid one is treated as anonymous.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var filter models.MessageFilter
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if userID, err := h.tokens.Parse(strings.TrimPrefix(header, "Bearer ")); err == nil {
			filter.UserID = userID
		}
	}
	query := r.URL.Query()
	filter.PrivateOnly = query.Get("private") == "true"
	filter.Channel = query.Get("channel")

	history, err := h.hub.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to fetch messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleWebSocket authenticates before upgrading; a rejected credential
// never reaches the hub.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.verifier.Verify(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		h.logger.Info("websocket rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		h.writeAuthError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := websocket.NewClient(h.hub, conn, *user)
	if !client.Start() {
		h.logger.Warn("hub stopped, connection dropped", zap.String("username", user.Username))
	}
}

func (h *Handlers) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "Token expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnknownUser):
		writeError(w, http.StatusUnauthorized, "Invalid token")
	default:
		h.logger.Error("identity verification failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Authentication unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorPayload{Message: message})
}
