package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redisrepo "github.com/kirinyoku/bookd/internal/repository/redis"
	"github.com/kirinyoku/bookd/internal/service"
	"github.com/kirinyoku/bookd/internal/service/admission"
	"github.com/kirinyoku/bookd/internal/service/query"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), IdentityMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/bookings", handleCreateBooking(svcs, idem))
	r.DELETE("/bookings/:id", handleCancelBooking(svcs))
	r.GET("/bookings/:id", handleGetBooking(svcs))
	r.GET("/bookings/user/:user_id", handleUserBookings(svcs))
	r.GET("/bookings/event/:event_id", handleEventBookings(svcs))

	r.GET("/events/:id/availability", handleAvailability(svcs))

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Create booking (idempotent)
// @Param    X-User-ID header string true "caller identity"
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} domain.Booking
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "event full / duplicate booking / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  503 {object} ErrorResponse "safe to resubmit"
// @Router   /bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(userID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		rlKey := "user:" + userID

		booking, err := svcs.Admission.Reserve(
			c.Request.Context(),
			req.EventID,
			userID,
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if isRateLimitedErr(err) {
				c.Header("Retry-After", "60")
				c.JSON(
					http.StatusTooManyRequests,
					ErrorResponse{Error: err.Error()},
				)
				return
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(booking)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, booking)
	}
}

// @Summary  Cancel booking
// @Param    X-User-ID header string true "caller identity"
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} AckResponse
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  503 {object} ErrorResponse "safe to resubmit"
// @Router   /bookings/{id} [delete]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		if err := svcs.Admission.Cancel(c.Request.Context(), bookingID, userID); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, AckResponse{Message: "Booking cancelled successfully"})
	}
}

// @Summary  Get booking
// @Param    X-User-ID header string true "caller identity"
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.BookingWithEvent
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Query.GetBooking(c.Request.Context(), userID, bookingID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, b)
	}
}

// @Summary  List a user's bookings
// @Param    X-User-ID header string true "caller identity"
// @Param    user_id path  string  true  "User ID"
// @Param    limit  query  int     false "page size"
// @Param    offset query  int     false "offset"
// @Success  200  {array}   domain.BookingWithEvent
// @Failure  403  {object}  ErrorResponse
// @Router   /bookings/user/{user_id} [get]
func handleUserBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		requesterID, ok := requireUser(c)
		if !ok {
			return
		}

		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		bookings, err := svcs.Query.BookingsForUser(
			c.Request.Context(),
			requesterID,
			c.Param("user_id"),
			limit,
			offset,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, bookings, "private, max-age=15", true)
	}
}

// @Summary  List an event's bookings (organizer only)
// @Param    X-User-ID header string true "caller identity"
// @Param    event_id path  string  true  "Event ID"
// @Param    limit  query  int     false "page size"
// @Param    offset query  int     false "offset"
// @Success  200  {array}   domain.BookingWithEvent
// @Failure  403  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /bookings/event/{event_id} [get]
func handleEventBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		requesterID, ok := requireUser(c)
		if !ok {
			return
		}

		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		bookings, err := svcs.Query.BookingsForEvent(
			c.Request.Context(),
			requesterID,
			c.Param("event_id"),
			limit,
			offset,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, bookings, "private, max-age=15", true)
	}
}

// @Summary  Event availability
// @Param    id  path  string  true  "Event ID"
// @Success  200  {object}  domain.EventAvailability
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability [get]
func handleAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		avail, err := svcs.Query.Availability(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, avail, "public, max-age=5", true)
	}
}

// --- Helpers ---

func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing " + userIDHeader + " header"})
		return "", false
	}
	return userID, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func isRateLimitedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "rate limited")
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// Compensation failures first: they may be joined onto a step error
	// and must reach the operator as a server-side condition.
	case errors.Is(err, admission.ErrCompensationFailed):
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "booking state requires reconciliation"})
		return
	// admission service
	case errors.Is(err, admission.ErrDuplicateBooking):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "user already has a booking for this event"})
		return
	case errors.Is(err, admission.ErrEventFull):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event is full"})
		return
	case errors.Is(err, admission.ErrEventInactive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event is not active"})
		return
	case errors.Is(err, admission.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, admission.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, admission.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not authorized for this booking"})
		return
	case errors.Is(err, admission.ErrPersistence):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "booking store unavailable, retry"})
		return
	case errors.Is(err, admission.ErrCapacityUpdateFailed):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "capacity update failed, retry"})
		return
	// query service
	case errors.Is(err, query.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, query.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not authorized to view these bookings"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
