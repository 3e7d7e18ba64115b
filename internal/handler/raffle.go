package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

// RaffleHandler serves the public reconcile endpoints and the admin
// raffle lifecycle.
type RaffleHandler struct {
	Service *service.ReservationService
}

func NewRaffleHandler(svc *service.ReservationService) *RaffleHandler {
	return &RaffleHandler{Service: svc}
}

type numberView struct {
	Value  int    `json:"number_value"`
	Status string `json:"status"`
}

// Numbers handles GET /v1/raffles/:id/numbers.  Realtime clients call it
// after (re)connecting to rebuild their view; it is never cached.
func (h *RaffleHandler) Numbers(c echo.Context) error {
	raffleID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle id"})
	}
	nums, err := h.Service.Numbers(c.Request().Context(), raffleID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]numberView, 0, len(nums))
	for _, n := range nums {
		out = append(out, numberView{Value: n.Value, Status: string(n.Status)})
	}
	return c.JSON(http.StatusOK, echo.Map{"raffle_id": raffleID, "numbers": out})
}

// Summary handles GET /v1/raffles/:id/summary.
func (h *RaffleHandler) Summary(c echo.Context) error {
	raffleID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle id"})
	}
	sum, err := h.Service.Summary(c.Request().Context(), raffleID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// Publish handles POST /v1/admin/raffles with {"id", "total_numbers"}.
// Numbers 0..total_numbers-1 are created available and the raffle
// becomes active.
func (h *RaffleHandler) Publish(c echo.Context) error {
	var body struct {
		ID           uint64 `json:"id"`
		TotalNumbers int    `json:"total_numbers"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ID == 0 || body.TotalNumbers <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id and total_numbers are required"})
	}
	if err := h.Service.PublishRaffle(c.Request().Context(), body.ID, body.TotalNumbers); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": body.ID, "total_numbers": body.TotalNumbers, "status": model.RaffleActive})
}

// SetStatus handles PUT /v1/admin/raffles/:id/status.
func (h *RaffleHandler) SetStatus(c echo.Context) error {
	raffleID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle id"})
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	status := model.RaffleStatus(body.Status)
	if !status.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	if err := h.Service.SetRaffleStatus(c.Request().Context(), raffleID, status); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": raffleID, "status": status})
}
