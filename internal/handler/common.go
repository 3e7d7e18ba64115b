package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// getUserID extracts the user_id set by JWTAuth and converts it to uint64.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		// JSON numbers decode as float64
		if t > 0 {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// parseID parses a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// reservationView is the JSON shape of a reservation.
type reservationView struct {
	ID           string `json:"id"`
	RaffleID     uint64 `json:"raffle_id"`
	OwnerUserID  uint64 `json:"owner_user_id"`
	SessionID    string `json:"session_id,omitempty"`
	NumberValues []int  `json:"number_values"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toView(r *model.Reservation) reservationView {
	nums := r.Numbers
	if nums == nil {
		nums = []int{}
	}
	return reservationView{
		ID:           r.ID,
		RaffleID:     r.RaffleID,
		OwnerUserID:  r.OwnerUserID,
		SessionID:    r.SessionID,
		NumberValues: nums,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:    r.ExpiresAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// writeError translates service errors into the JSON error responses of
// the API.  Unexpected errors are logged and reported as 500.
func writeError(c echo.Context, err error) error {
	var conflict *repository.ConflictError
	var active *repository.AlreadyActiveError
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict", "numbers": conflict.Numbers})
	case errors.As(err, &active):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already_active", "reservation": toView(active.Reservation)})
	case errors.Is(err, repository.ErrRaffleNotSellable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "raffle_not_sellable"})
	case errors.Is(err, repository.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_state"})
	case errors.Is(err, repository.ErrUnknownNumber):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown_number"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "expired"})
	case errors.Is(err, repository.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_input", "message": err.Error()})
	case errors.Is(err, repository.ErrUnavailable):
		c.Response().Header().Set("Retry-After", "5")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "unavailable"})
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
