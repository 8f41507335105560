package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loyalty/points-ledger/internal/core/ports"
)

const maxBatchSize = 1000

// TransferQueue is the interface the handler uses to enqueue transfers.
type TransferQueue interface {
	EnqueueBatch(ctx context.Context, inputs []ports.TransferInput) (int, error)
}

// BatchHandler accepts bulk transfers for asynchronous processing.
type BatchHandler struct {
	queue TransferQueue
}

func NewBatchHandler(queue TransferQueue) *BatchHandler {
	return &BatchHandler{queue: queue}
}

// Create handles POST /api/v1/transfers/batch and returns 202 once every
// transfer is queued. Outcomes are not reported back to the caller.
//
// @Summary      Queue a batch of transfers
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Param        body  body      []batchTransferRequest  true  "Transfers to apply"
// @Success      202   {object}  acceptedResponse
// @Failure      400   {object}  errorResponse
// @Failure      503   {object}  errorResponse
// @Router       /transfers/batch [post]
func (h *BatchHandler) Create(c echo.Context) error {
	var reqs []batchTransferRequest
	if err := c.Bind(&reqs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if len(reqs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batch cannot be empty")
	}
	if len(reqs) > maxBatchSize {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("batch cannot exceed %d transfers", maxBatchSize))
	}

	inputs := make([]ports.TransferInput, 0, len(reqs))
	for i := range reqs {
		if err := c.Validate(&reqs[i]); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("transfer[%d]: %s", i, err.Error()))
		}
		inputs = append(inputs, ports.TransferInput{UserID: reqs[i].UserID, Amount: *reqs[i].Amount})
	}

	n, err := h.queue.EnqueueBatch(c.Request().Context(), inputs)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			fmt.Sprintf("queued %d of %d transfers before the request was cancelled", n, len(inputs))).
			SetInternal(err)
	}

	return c.JSON(http.StatusAccepted, acceptedResponse{
		Message: "transfers accepted",
		Count:   n,
	})
}
