package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-reservation/internal/service"
)

// ReservationHandler exposes the reservation lifecycle to customers and
// to the payment service.  All methods assume that JWT authentication
// and role validation has already been performed by middleware.
// Methods return 401 Unauthorized if the user ID cannot be extracted
// from the context.
type ReservationHandler struct {
	Service *service.ReservationService
}

// NewReservationHandler constructs a ReservationHandler.  The service
// must be non-nil.
func NewReservationHandler(svc *service.ReservationService) *ReservationHandler {
	if svc == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Service: svc}
}

// Create handles POST /v1/reservations.  The body carries the raffle,
// the numbers to hold and an optional client session id.  Either every
// number is held and 201 is returned, or nothing is and the response
// lists the numbers that were taken.
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		RaffleID     uint64 `json:"raffle_id"`
		NumberValues []int  `json:"number_values"`
		SessionID    string `json:"session_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.RaffleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "raffle_id is required"})
	}
	if len(body.NumberValues) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "number_values is required"})
	}
	res, err := h.Service.Create(c.Request().Context(), service.CreateInput{
		RaffleID:    body.RaffleID,
		Numbers:     body.NumberValues,
		OwnerUserID: userID,
		SessionID:   body.SessionID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toView(res))
}

// AddNumber handles POST /v1/reservations/:id/numbers with a body of
// {"number_value": n}.
func (h *ReservationHandler) AddNumber(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		NumberValue *int `json:"number_value"`
	}
	if err := c.Bind(&body); err != nil || body.NumberValue == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "number_value is required"})
	}
	res, err := h.Service.AddNumber(c.Request().Context(), userID, c.Param("id"), *body.NumberValue)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}

// RemoveNumber handles DELETE /v1/reservations/:id/numbers/:number_value.
// Removing the last number cancels the reservation; the response then
// carries status "cancelled".
func (h *ReservationHandler) RemoveNumber(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	n, err := strconv.Atoi(c.Param("number_value"))
	if err != nil || n < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid number_value"})
	}
	res, err := h.Service.RemoveNumber(c.Request().Context(), userID, c.Param("id"), n)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}

// Cancel handles POST /v1/reservations/:id/cancel.  Repeating it is
// harmless.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.Service.Cancel(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}

// Confirm handles POST /v1/reservations/:id/confirm.  It is reserved for
// the payment service (and admins) and is the synchronous twin of the
// payment.captured queue consumer.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	res, err := h.Service.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}

// GetReservation handles GET /v1/reservations/:id.  Only the owner may
// read a reservation.
func (h *ReservationHandler) GetReservation(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.Service.Get(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}

// Active handles GET /v1/reservations/active?raffle_id=.  Clients use it
// to resume a hold after a reload.
func (h *ReservationHandler) Active(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	raffleID, err := strconv.ParseUint(c.QueryParam("raffle_id"), 10, 64)
	if err != nil || raffleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle_id"})
	}
	res, err := h.Service.Active(c.Request().Context(), userID, raffleID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toView(res))
}
