package mockapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mediflow/mediflow/internal/rx"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50

	// duplicateWindow is how far back create-prescription looks for an
	// identical medicine set on the same patient.
	duplicateWindow = 24 * time.Hour
)

type Server struct {
	echo       *echo.Echo
	store      Store
	logger     zerolog.Logger
	jwtSecret  []byte
	sessionTTL time.Duration
	now        func() time.Time
}

type ServerOption func(*Server)

func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(s *Server) { s.sessionTTL = ttl }
}

// WithClock overrides the server's time source.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

func NewServer(store Store, jwtSecret string, opts ...ServerOption) *Server {
	s := &Server{
		store:      store,
		logger:     zerolog.Nop(),
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: 12 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(recovery(s.logger))
	e.Use(requestID())
	e.Use(requestLogger(s.logger))
	e.Use(metricsMiddleware())

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1", s.authMiddleware())
	v1.POST("/auth/login", s.handleLogin)
	v1.POST("/auth/signup", s.handleSignup)
	v1.POST("/auth/logout", s.handleLogout)
	v1.POST("/auth/refresh", s.handleRefresh)

	v1.GET("/patients/search", s.handleSearchPatients)
	v1.GET("/medicines/search", s.handleSearchMedicines)

	v1.POST("/prescriptions", s.handleCreatePrescription)
	v1.GET("/prescriptions", s.handleListPrescriptions)
	v1.GET("/prescriptions/:id", s.handleGetPrescription)

	v1.GET("/pharmacies", s.handleListPharmacies)

	s.echo = e
	return s
}

// Handler exposes the routing tree, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// -- Response envelope --

type responseEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

func respond(c echo.Context, status int, data any, message string) error {
	return c.JSON(status, responseEnvelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, responseEnvelope{
		StatusCode: status,
		Message:    message,
		Success:    false,
	})
}

// -- Auth --

var authSkipPaths = map[string]bool{
	"/api/v1/auth/login":  true,
	"/api/v1/auth/signup": true,
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// authMiddleware requires a bearer token whose session is still live.
// Revoked or expired sessions get a bare 401 so clients drop their
// stored credentials.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authSkipPaths[c.Path()] {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				return fail(c, http.StatusUnauthorized, "missing bearer token")
			}

			claims := &sessionClaims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return s.jwtSecret, nil
			}, jwt.WithTimeFunc(s.now))
			if err != nil {
				return fail(c, http.StatusUnauthorized, "invalid token")
			}

			sess, err := s.store.GetSession(c.Request().Context(), claims.ID)
			if err != nil {
				return fail(c, http.StatusUnauthorized, "session revoked")
			}
			if sess.ExpiresAt.Before(s.now()) {
				return fail(c, http.StatusUnauthorized, "session expired")
			}

			c.Set("user_id", claims.Subject)
			c.Set("email", claims.Email)
			c.Set("role", claims.Role)
			c.Set("jti", claims.ID)
			return next(c)
		}
	}
}

func (s *Server) mintToken(ctx context.Context, userID, email, role string) (string, error) {
	now := s.now()
	jti := uuid.NewString()
	expires := now.Add(s.sessionTTL)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email: email,
		Role:  role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	if err := s.store.CreateSession(ctx, &AuthSession{JTI: jti, UserID: userID, ExpiresAt: expires}); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

type userPayload struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Role       string `json:"role"`
	IsVerified bool   `json:"isVerified"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func accountPayload(a *Account) userPayload {
	created := a.CreatedAt.UTC().Format(time.RFC3339)
	return userPayload{
		ID:         a.ID,
		Email:      a.Email,
		Phone:      a.Phone,
		Role:       a.Role,
		IsVerified: true,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func (s *Server) handleLogin(c echo.Context) error {
	var body struct {
		EmailOrPhone string `json:"emailOrPhone"`
		Password     string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return fail(c, http.StatusBadRequest, "malformed request body")
	}

	acct, err := s.store.FindAccount(c.Request().Context(), body.EmailOrPhone)
	if err != nil || acct.Password != body.Password {
		return fail(c, http.StatusUnauthorized, "invalid credentials")
	}

	token, err := s.mintToken(c.Request().Context(), acct.ID, acct.Email, acct.Role)
	if err != nil {
		s.logger.Error().Err(err).Msg("mint token")
		return fail(c, http.StatusInternalServerError, "could not create session")
	}

	return respond(c, http.StatusOK, map[string]any{
		"user":  accountPayload(acct),
		"token": token,
	}, "login successful")
}

func (s *Server) handleSignup(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return fail(c, http.StatusBadRequest, "malformed request body")
	}
	if body.Email == "" || body.Password == "" {
		return fail(c, http.StatusBadRequest, "email and password are required")
	}
	if _, err := s.store.FindAccount(c.Request().Context(), body.Email); err == nil {
		return fail(c, http.StatusConflict, "account already exists")
	}

	role := body.Role
	if role == "" {
		role = "patient"
	}
	acct := &Account{
		ID:        "U-" + uuid.NewString()[:8],
		Email:     body.Email,
		Phone:     body.Phone,
		Role:      role,
		Password:  body.Password,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAccount(c.Request().Context(), acct); err != nil {
		s.logger.Error().Err(err).Msg("create account")
		return fail(c, http.StatusInternalServerError, "could not create account")
	}
	return respond(c, http.StatusCreated, accountPayload(acct), "account created")
}

func (s *Server) handleLogout(c echo.Context) error {
	jti, _ := c.Get("jti").(string)
	if jti != "" {
		if err := s.store.DeleteSession(c.Request().Context(), jti); err != nil {
			s.logger.Warn().Err(err).Str("jti", jti).Msg("delete session")
		}
	}
	return respond(c, http.StatusOK, nil, "logged out")
}

func (s *Server) handleRefresh(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	email, _ := c.Get("email").(string)
	role, _ := c.Get("role").(string)
	oldJTI, _ := c.Get("jti").(string)

	token, err := s.mintToken(c.Request().Context(), userID, email, role)
	if err != nil {
		s.logger.Error().Err(err).Msg("mint token")
		return fail(c, http.StatusInternalServerError, "could not refresh session")
	}
	if err := s.store.DeleteSession(c.Request().Context(), oldJTI); err != nil {
		s.logger.Warn().Err(err).Str("jti", oldJTI).Msg("delete session")
	}
	return respond(c, http.StatusOK, map[string]string{"token": token}, "token refreshed")
}

// -- Directory search --

func searchParams(c echo.Context) (query string, limit int) {
	query = c.QueryParam("q")
	limit = defaultSearchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return query, limit
}

func (s *Server) handleSearchPatients(c echo.Context) error {
	query, limit := searchParams(c)
	out, err := s.store.SearchPatients(c.Request().Context(), query, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("search patients")
		return fail(c, http.StatusInternalServerError, "search failed")
	}
	return respond(c, http.StatusOK, out, "ok")
}

func (s *Server) handleSearchMedicines(c echo.Context) error {
	query, limit := searchParams(c)
	out, err := s.store.SearchMedicines(c.Request().Context(), query, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("search medicines")
		return fail(c, http.StatusInternalServerError, "search failed")
	}
	return respond(c, http.StatusOK, out, "ok")
}

// -- Prescriptions --

func (s *Server) handleCreatePrescription(c echo.Context) error {
	var req rx.CreatePrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "malformed request body")
	}
	if req.PatientID == "" {
		return fail(c, http.StatusBadRequest, "patientId is required")
	}
	if len(req.Medicines) == 0 {
		return fail(c, http.StatusBadRequest, "at least one medicine is required")
	}

	ctx := c.Request().Context()
	patient, err := s.store.GetPatient(ctx, req.PatientID)
	if errors.Is(err, ErrNotFound) {
		return fail(c, http.StatusBadRequest, "unknown patient")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("load patient")
		return fail(c, http.StatusInternalServerError, "could not load patient")
	}

	var followUp *time.Time
	if req.FollowUpDate != "" {
		t, err := time.Parse(time.RFC3339, req.FollowUpDate)
		if err != nil {
			return fail(c, http.StatusBadRequest, "followUpDate must be RFC 3339")
		}
		t = t.UTC()
		followUp = &t
	}

	p := &rx.Prescription{
		ID:              "RX-" + strings.ToUpper(uuid.NewString()[:8]),
		PatientID:       req.PatientID,
		Patient:         *patient,
		ChiefComplaints: req.ChiefComplaints,
		FindingsOnExam:  req.FindingsOnExam,
		Advice:          req.Advice,
		FollowUpDate:    followUp,
		Medicines:       req.Medicines,
		Status:          "created",
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreatePrescription(ctx, p, s.now().Add(-duplicateWindow)); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return fail(c, http.StatusConflict, "Duplicate prescription")
		}
		s.logger.Error().Err(err).Msg("create prescription")
		return fail(c, http.StatusInternalServerError, "could not save prescription")
	}

	s.logger.Info().
		Str("prescription_id", p.ID).
		Str("patient_id", p.PatientID).
		Str("client_ref", req.ClientRef).
		Int("medicines", len(p.Medicines)).
		Msg("prescription created")

	return respond(c, http.StatusCreated, p, "prescription created")
}

func (s *Server) handleGetPrescription(c echo.Context) error {
	p, err := s.store.GetPrescription(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return fail(c, http.StatusNotFound, "prescription not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("get prescription")
		return fail(c, http.StatusInternalServerError, "could not load prescription")
	}
	return respond(c, http.StatusOK, p, "ok")
}

func (s *Server) handleListPrescriptions(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	out, err := s.store.ListPrescriptions(c.Request().Context(), c.QueryParam("patientId"), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("list prescriptions")
		return fail(c, http.StatusInternalServerError, "could not list prescriptions")
	}
	return respond(c, http.StatusOK, out, "ok")
}

// -- Pharmacies --

func (s *Server) handleListPharmacies(c echo.Context) error {
	out, err := s.store.ListPharmacies(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list pharmacies")
		return fail(c, http.StatusInternalServerError, "could not list pharmacies")
	}
	return respond(c, http.StatusOK, out, "ok")
}

// -- Health --

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
