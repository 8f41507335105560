package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loyalty/points-ledger/internal/api/middleware"
	"github.com/loyalty/points-ledger/internal/core/ports"
)

// HeaderIdempotentReplay marks a response served from the idempotency store.
const HeaderIdempotentReplay = "Idempotent-Replay"

// TransferHandler serves a user's transfers.
type TransferHandler struct {
	ledger ports.LedgerService
}

func NewTransferHandler(ledger ports.LedgerService) *TransferHandler {
	return &TransferHandler{ledger: ledger}
}

// List handles GET /api/v1/users/:id/transfers in creation order.
//
// @Summary      List a user's transfers
// @Tags         transfers
// @Produce      json
// @Param        id   path      string  true  "User ID"
// @Success      200  {array}   transferResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /users/{id}/transfers [get]
func (h *TransferHandler) List(c echo.Context) error {
	transfers, err := h.ledger.ListTransfers(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTransferResponses(transfers))
}

// Create handles POST /api/v1/users/:id/transfers. A positive amount credits
// the user, a negative one debits them.
//
// @Summary      Credit or debit a user
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Param        id               path      string                 true   "User ID"
// @Param        Idempotency-Key  header    string                 false  "Replays the first result for a repeated key"
// @Param        body             body      createTransferRequest  true   "Signed amount"
// @Success      200              {object}  transferResponse  "Idempotent replay"
// @Success      201              {object}  transferResponse
// @Failure      400              {object}  errorResponse
// @Failure      404              {object}  errorResponse
// @Failure      409              {object}  errorResponse  "Idempotency key in use"
// @Failure      422              {object}  errorResponse  "Insufficient points"
// @Failure      503              {object}  errorResponse  "Too much contention, retry later"
// @Router       /users/{id}/transfers [post]
func (h *TransferHandler) Create(c echo.Context) error {
	var req createTransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	key, _ := c.Get(middleware.ContextIdempotencyKey).(string)

	result, err := h.ledger.ApplyTransfer(c.Request().Context(), ports.TransferInput{
		UserID:         c.Param("id"),
		Amount:         *req.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	if result.Replayed {
		c.Response().Header().Set(HeaderIdempotentReplay, "true")
		return c.JSON(http.StatusOK, toTransferResponse(result.Transfer))
	}
	return c.JSON(http.StatusCreated, toTransferResponse(result.Transfer))
}
