// Package devserver is an in-process stand-in for the settlement backend:
// login, dashboards, company creation, the SMS webhook and the realtime
// websocket channels.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

type Config struct {
	Host          string
	Port          int
	JWTSecret     string // random per process when empty
	TokenTTL      time.Duration
	AdminUsername string
	AdminPassword string
	// DBPath is the ledger database; ":memory:" when empty.
	DBPath string
}

type Server struct {
	cfg    Config
	ledger *Ledger
	hub    *hub
	logger *slog.Logger
	srv    *http.Server
}

func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}
	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = secret
	}

	ledger, err := OpenLedger(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if cfg.AdminUsername != "" {
		if err := ledger.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
			ledger.Close()
			return nil, fmt.Errorf("seed admin: %w", err)
		}
	}
	return &Server{cfg: cfg, ledger: ledger, hub: newHub(), logger: logger}, nil
}

// Ledger exposes the backing store, e.g. for seeding.
func (s *Server) Ledger() *Ledger { return s.ledger }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/admin/dashboard", s.adminOnly(s.handleDashboard))
	mux.HandleFunc("POST /api/admin/companies", s.adminOnly(s.handleCreateCompany))
	mux.HandleFunc("PATCH /api/admin/companies/{id}", s.adminOnly(s.handleUpdateCompany))
	mux.HandleFunc("POST /api/admin/notify", s.adminOnly(s.handleNotify))
	mux.HandleFunc("GET /api/companies/{id}/transactions", s.handleTransactions)
	mux.HandleFunc("POST /api/webhook/{apiKey}", s.handleWebhook)
	mux.HandleFunc("GET /api/webhook/setup-guide/{apiKey}", s.handleSetupGuide)
	mux.HandleFunc("GET /ws/admin", s.adminOnly(s.handleAdminWS))
	mux.HandleFunc("GET /ws/company/{id}", s.handleCompanyWS)

	public := []string{"/api/auth/login", "/api/webhook/"}
	protected := jwtMiddleware(s.cfg.JWTSecret, public, mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The status page is the only public path that is not a prefix.
		if r.URL.Path == "/" {
			mux.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("devserver: listening", "addr", addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) Close() error {
	return s.ledger.Close()
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c := claimsFrom(r.Context()); c == nil || !c.isAdmin() {
			writeDetail(w, http.StatusForbidden, "관리자만 접근 가능합니다")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "settle-dash devserver", "status": "running"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	Redirect    string `json:"redirect"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, err := s.ledger.Authenticate(req.Username, req.Password)
	if err != nil {
		s.logger.Error("devserver: authenticate", "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if acct == nil {
		writeDetail(w, http.StatusUnauthorized, "잘못된 로그인 정보입니다")
		return
	}
	token, err := IssueAccessToken(s.cfg.JWTSecret, acct, s.cfg.TokenTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		Role:        acct.Role,
		Redirect:    "/" + acct.Role,
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, companies, err := s.ledger.Dashboard()
	if err != nil {
		s.logger.Error("devserver: dashboard", "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "companies": companies})
}

type createdCompany struct {
	ID          int64  `json:"id"`
	CompanyName string `json:"company_name"`
	LoginID     string `json:"login_id"`
	APIKey      string `json:"api_key"`
	WebhookURL  string `json:"webhook_url"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var in NewCompany
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.CompanyName == "" || in.LoginID == "" || in.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "company_name, login_id and password are required")
		return
	}
	c, err := s.ledger.CreateCompany(in)
	if errors.Is(err, ErrDuplicateLogin) {
		writeDetail(w, http.StatusBadRequest, "이미 존재하는 로그인 ID입니다")
		return
	}
	if err != nil {
		s.logger.Error("devserver: create company", "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.hub.broadcast(adminChannel, map[string]any{
		"type": "company_created",
		"data": map[string]any{"id": c.ID, "company_name": c.CompanyName, "api_key": c.APIKey},
	})
	writeJSON(w, http.StatusOK, createdCompany{
		ID:          c.ID,
		CompanyName: c.CompanyName,
		LoginID:     c.LoginID,
		APIKey:      c.APIKey,
		WebhookURL:  "/api/webhook/" + c.APIKey,
		CreatedAt:   c.CreatedAt,
	})
}

func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in CompanyUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := s.ledger.UpdateCompany(id, in)
	if errors.Is(err, ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "company not found")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	msg := map[string]any{
		"type": "company_updated",
		"data": map[string]any{"id": c.ID, "company_name": c.CompanyName},
	}
	s.hub.broadcast(adminChannel, msg)
	s.hub.broadcast(companyChannel(c.ID), msg)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeDetail(w, http.StatusBadRequest, "message is required")
		return
	}
	s.hub.broadcastAll(map[string]any{"type": "system_notification", "message": body.Message})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid company id")
		return
	}
	if c := claimsFrom(r.Context()); c == nil || (!c.isAdmin() && c.CompanyID != id) {
		writeDetail(w, http.StatusForbidden, "권한이 없습니다")
		return
	}
	txs, err := s.ledger.Transactions(id)
	if err != nil {
		s.logger.Error("devserver: transactions", "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type smsWebhook struct {
	Date    string `json:"date"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	c, err := s.ledger.CompanyByAPIKey(r.PathValue("apiKey"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Invalid API key")
		return
	}
	var body smsWebhook
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "message is required")
		return
	}
	parsed, err := ParseSMS(body.Message)
	if err != nil {
		s.logger.Warn("devserver: sms not parsed", "company", c.ID, "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "reason": "parsing_failed"})
		return
	}
	tx, err := s.ledger.RecordSMS(c, parsed, body.Message)
	if err != nil {
		s.logger.Error("devserver: record sms", "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	msg := map[string]any{"type": "new_transaction", "data": tx}
	s.hub.broadcast(adminChannel, msg)
	s.hub.broadcast(companyChannel(c.ID), msg)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "transaction_id": tx.ID})
}

func (s *Server) handleSetupGuide(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("apiKey")
	c, err := s.ledger.CompanyByAPIKey(key)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Invalid API key")
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	webhook := fmt.Sprintf("%s://%s/api/webhook/%s", scheme, r.Host, key)
	writeJSON(w, http.StatusOK, map[string]any{
		"app_name":     "문자자동전달",
		"company_name": c.CompanyName,
		"webhook_url":  webhook,
		"method":       "POST",
		"content_type": "application/json",
		"expected_format": smsWebhook{
			Date:    "2025.06.27 13:00:30",
			From:    "***-****-****",
			To:      "***-****-****",
			Message: "[Web발신]\n농협 출금700,000원\n06/27 13:00 302-****-5080-61 신주일 잔액307,006원",
		},
	})
}

func (s *Server) handleAdminWS(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, adminChannel)
}

func (s *Server) handleCompanyWS(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid company id")
		return
	}
	if c := claimsFrom(r.Context()); c == nil || (!c.isAdmin() && c.CompanyID != id) {
		writeDetail(w, http.StatusForbidden, "권한이 없습니다")
		return
	}
	s.hub.serve(w, r, companyChannel(id))
}
