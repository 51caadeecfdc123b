// Package server exposes the backend entrypoints over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"organizer/db"
	"organizer/delivery"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "organizer",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status code.",
}, []string{"method", "path", "code"})

// Deliverer runs one claim-and-deliver batch.
type Deliverer interface {
	Run(ctx context.Context) (*delivery.Summary, error)
}

// UpdateHandler processes inbound webhook updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd *tg.Update)
}

// Store is the part of the shared store the API writes to.
type Store interface {
	BindChat(ctx context.Context, cht int64, usr string) error
	CreateReminder(ctx context.Context, r *db.Reminder) (string, error)
	Ping(ctx context.Context) error
}

type Server struct {
	Deliverer Deliverer
	Updates   UpdateHandler
	Store     Store
	Logger    *zap.SugaredLogger
	Secret    string

	echo *echo.Echo
	cron *cron.Cron
}

func New(d Deliverer, u UpdateHandler, s Store, secret string, l *zap.SugaredLogger) *Server {
	srv := &Server{
		Deliverer: d,
		Updates:   u,
		Store:     s,
		Logger:    l,
		Secret:    secret,
		echo:      echo.New(),
	}

	srv.echo.HideBanner = true
	srv.echo.HidePort = true

	srv.registerMiddleware()
	srv.registerHandlers()

	return srv
}

// ServeHTTP lets the server be used as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(addr string) error {
	s.Logger.Infow("starting http listener", "addr", addr)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return s.echo.Shutdown(ctx)
}

// StartCron triggers delivery on the given cron schedule in-process, for
// deployments without an external scheduler.
func (s *Server) StartCron(schedule string) error {
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	if _, err := s.cron.AddFunc(schedule, func() {
		summary, err := s.Deliverer.Run(context.Background())
		if err != nil {
			s.Logger.Errorw("scheduled delivery failed", "err", err)
			return
		}
		s.Logger.Debugw("scheduled delivery finished", "processed", summary.Processed)
	}); err != nil {
		return err
	}

	s.Logger.Infow("scheduled delivery", "schedule", schedule)
	s.cron.Start()
	return nil
}

func (s *Server) registerMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			requestsTotal.WithLabelValues(v.Method, c.Path(), strconv.Itoa(v.Status)).Inc()
			s.Logger.Debugw("request", "method", v.Method, "path", v.URIPath, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
}

func (s *Server) registerHandlers() {
	s.echo.Any("/webhook", s.webhook)
	s.echo.Match([]string{http.MethodGet, http.MethodPost}, "/cron/deliver", s.deliver, s.authorize)

	api := s.echo.Group("/api", s.authorize)
	api.POST("/bind", s.bind)
	api.POST("/reminders", s.createReminder)

	s.echo.GET("/status", s.status)
	s.echo.Any("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// authorize checks the shared secret, given either as a bearer token or as
// the secret query parameter. Without a configured secret everyone passes.
func (s *Server) authorize(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Secret == "" {
			return next(c)
		}

		if matches(bearer(c.Request().Header.Get(echo.HeaderAuthorization)), s.Secret) ||
			matches(c.QueryParam("secret"), s.Secret) {
			return next(c)
		}

		s.Logger.Warnw("unauthorized request", "path", c.Path(), "ip", c.RealIP())
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	}
}

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func matches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// webhook always answers 200 to POST: the provider redelivers anything else.
func (s *Server) webhook(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		return c.JSON(http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}

	var upd tg.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&upd); err != nil {
		s.Logger.Warnw("malformed update", "err", err)
		return c.JSON(http.StatusOK, okResponse{OK: true})
	}

	s.handleUpdate(c.Request().Context(), &upd)

	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleUpdate(ctx context.Context, upd *tg.Update) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Errorw("update handler panicked", "panic", r, "update", upd.UpdateID)
		}
	}()

	s.Updates.HandleUpdate(ctx, upd)
}

type deliverResponse struct {
	OK        bool              `json:"ok"`
	Processed int               `json:"processed"`
	Results   []delivery.Result `json:"results"`
}

func (s *Server) deliver(c echo.Context) error {
	summary, err := s.Deliverer.Run(c.Request().Context())
	if err != nil {
		s.Logger.Errorw("delivery failed", "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, deliverResponse{OK: true, Processed: summary.Processed, Results: summary.Results})
}

type bindRequest struct {
	ChatID int64  `json:"chatId"`
	UserID string `json:"userId"`
}

func (s *Server) bind(c echo.Context) error {
	var req bindRequest
	if err := c.Bind(&req); err != nil || req.ChatID == 0 || strings.TrimSpace(req.UserID) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "chatId and userId are required"})
	}

	if err := s.Store.BindChat(c.Request().Context(), req.ChatID, req.UserID); err != nil {
		s.Logger.Errorw("failed binding chat", "cht", req.ChatID, "usr", req.UserID, "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed binding chat"})
	}

	return c.JSON(http.StatusOK, okResponse{OK: true})
}

type reminderRequest struct {
	ChatID       int64     `json:"chatId"`
	Title        string    `json:"title"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	TelegramText string    `json:"telegramText"`
}

type reminderResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

func (s *Server) createReminder(c echo.Context) error {
	var req reminderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed reminder"})
	}

	id, err := s.Store.CreateReminder(c.Request().Context(), &db.Reminder{
		ChatID:       req.ChatID,
		ScheduledAt:  req.ScheduledAt,
		Title:        strings.TrimSpace(req.Title),
		TelegramText: req.TelegramText,
	})
	switch {
	case errors.Is(err, db.ErrInvalidReminder):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case err != nil:
		s.Logger.Errorw("failed creating reminder", "cht", req.ChatID, "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed creating reminder"})
	}

	return c.JSON(http.StatusCreated, reminderResponse{OK: true, ID: id})
}

func (s *Server) status(c echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		s.Logger.Errorw("failed to check db connection", "err", err)
		return c.String(http.StatusInternalServerError, "DB error")
	}
	return c.String(http.StatusOK, "OK")
}
