package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/service"
	"github.com/kursadbilgin/label-engine/internal/transport"
)

type PrintService interface {
	Submit(ctx context.Context, sessionID string, req domain.BatchRequest) (*domain.BatchResult, error)
	SubmitAsync(ctx context.Context, sessionID string, req domain.BatchRequest) error
	Cancel(sessionID string) (bool, error)
	CloseSession(sessionID string) error
	Progress(sessionID string) (*service.ProgressView, error)
	GetBatch(ctx context.Context, batchID string) (*service.BatchView, error)
}

type PrintHandler struct {
	service PrintService
}

func NewPrintHandler(service PrintService) (*PrintHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("print service is required")
	}
	return &PrintHandler{service: service}, nil
}

func RegisterPrintRoutes(router fiber.Router, service PrintService) error {
	h, err := NewPrintHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/sessions/:sessionId/batches", h.SubmitBatch)
	v1.Get("/sessions/:sessionId/progress", h.GetProgress)
	v1.Post("/sessions/:sessionId/cancel", h.CancelBatch)
	v1.Delete("/sessions/:sessionId", h.CloseSession)
	v1.Get("/batches/:batchId", h.GetBatch)

	return nil
}

// amountValue accepts an amount as a JSON string or number and keeps the
// raw text so the weight resolver sees exactly what the operator typed.
type amountValue string

func (a *amountValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amountValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*a = amountValue(n.String())
	return nil
}

type submitBatchRequest struct {
	Kind               string        `json:"kind"`
	ProductCode        string        `json:"productCode"`
	ProductDescription string        `json:"productDescription"`
	SupplierCode       string        `json:"supplierCode"`
	ReferenceNumber    string        `json:"referenceNumber"`
	OperatorID         string        `json:"operatorId"`
	Mode               string        `json:"mode"`
	PalletType         string        `json:"palletType"`
	PackageType        string        `json:"packageType"`
	PalletCount        int           `json:"palletCount"`
	PackageCount       int           `json:"packageCount"`
	Amounts            []amountValue `json:"amounts"`
	// Quantity and Count are the QC shorthand for Count identical items.
	Quantity *amountValue `json:"quantity,omitempty"`
	Count    int          `json:"count,omitempty"`
}

type batchResultResponse struct {
	BatchID    string                  `json:"batchId,omitempty"`
	Outcome    string                  `json:"outcome"`
	Total      int                     `json:"total"`
	Succeeded  int                     `json:"succeeded"`
	Failures   []domain.ItemFailure    `json:"failures,omitempty"`
	Progress   domain.ProgressSnapshot `json:"progress"`
	PrintJobID string                  `json:"printJobId,omitempty"`
	Notice     *domain.Notice          `json:"notice,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

type acceptedResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type progressResponse struct {
	SessionID  string               `json:"sessionId"`
	Busy       bool                 `json:"busy"`
	Completed  int                  `json:"completed"`
	Total      int                  `json:"total"`
	Statuses   []domain.ItemStatus  `json:"statuses"`
	LastResult *batchResultResponse `json:"lastResult,omitempty"`
}

type cancelResponse struct {
	SessionID string `json:"sessionId"`
	Cancelled bool   `json:"cancelled"`
}

type batchResponse struct {
	ID              string           `json:"id"`
	Kind            string           `json:"kind"`
	ProductCode     string           `json:"productCode"`
	SupplierCode    string           `json:"supplierCode,omitempty"`
	ReferenceNumber string           `json:"referenceNumber,omitempty"`
	OperatorID      string           `json:"operatorId"`
	Mode            string           `json:"mode"`
	PalletType      string           `json:"palletType,omitempty"`
	PackageType     string           `json:"packageType,omitempty"`
	PalletCount     int              `json:"palletCount"`
	PackageCount    int              `json:"packageCount"`
	TotalCount      int              `json:"totalCount"`
	Status          string           `json:"status"`
	StatusReason    string           `json:"statusReason,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Pallets         []palletResponse `json:"pallets"`
}

type palletResponse struct {
	PalletNumber string    `json:"palletNumber"`
	Series       string    `json:"series"`
	ItemIndex    int       `json:"itemIndex"`
	Amount       float64   `json:"amount"`
	GrossAmount  float64   `json:"grossAmount,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SubmitBatch runs a batch and answers with its result. With ?async=true it
// answers 202 at once and the outcome is read from the progress route.
func (h *PrintHandler) SubmitBatch(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionId"))

	var body submitBatchRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req, err := requestToDomainBatch(body)
	if err != nil {
		return toHTTPError(c, err)
	}

	if c.QueryBool("async", false) {
		if err := h.service.SubmitAsync(c.UserContext(), sessionID, req); err != nil {
			return toHTTPError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(acceptedResponse{
			SessionID: sessionID,
			Status:    "accepted",
		})
	}

	result, err := h.service.Submit(c.UserContext(), sessionID, req)
	if err != nil {
		if result == nil {
			return toHTTPError(c, err)
		}
		response := toBatchResultResponse(result)
		response.Error = err.Error()
		return c.Status(transport.StatusCode(err)).JSON(response)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResultResponse(result))
}

func (h *PrintHandler) GetProgress(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionId"))
	view, err := h.service.Progress(sessionID)
	if err != nil {
		return toHTTPError(c, err)
	}

	response := progressResponse{
		SessionID: sessionID,
		Busy:      view.Busy,
		Completed: view.Snapshot.Completed,
		Total:     view.Snapshot.Total,
		Statuses:  view.Snapshot.Statuses,
	}
	if response.Statuses == nil {
		response.Statuses = []domain.ItemStatus{}
	}
	if view.LastResult != nil {
		last := toBatchResultResponse(view.LastResult)
		response.LastResult = &last
	}
	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *PrintHandler) CancelBatch(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionId"))
	cancelled, err := h.service.Cancel(sessionID)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(cancelResponse{SessionID: sessionID, Cancelled: cancelled})
}

func (h *PrintHandler) CloseSession(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionId"))
	if err := h.service.CloseSession(sessionID); err != nil {
		return toHTTPError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PrintHandler) GetBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	view, err := h.service.GetBatch(c.UserContext(), batchID)
	if err != nil {
		return toHTTPError(c, err)
	}
	if view == nil || view.Batch == nil {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("batch %s not found", batchID))
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(view))
}

func requestToDomainBatch(body submitBatchRequest) (domain.BatchRequest, error) {
	kind, err := domain.ParseLabelKindFromString(body.Kind)
	if err != nil {
		return domain.BatchRequest{}, err
	}
	mode, err := domain.ParseLabelModeFromString(body.Mode)
	if err != nil {
		return domain.BatchRequest{}, err
	}
	pallet, err := domain.ParsePalletTypeFromString(body.PalletType)
	if err != nil {
		return domain.BatchRequest{}, err
	}
	pkg, err := domain.ParsePackageTypeFromString(body.PackageType)
	if err != nil {
		return domain.BatchRequest{}, err
	}

	amounts, err := expandAmounts(kind, body)
	if err != nil {
		return domain.BatchRequest{}, err
	}

	return domain.BatchRequest{
		Kind:               kind,
		ProductCode:        strings.TrimSpace(body.ProductCode),
		ProductDescription: strings.TrimSpace(body.ProductDescription),
		CounterpartyCode:   strings.TrimSpace(body.SupplierCode),
		ReferenceNumber:    strings.TrimSpace(body.ReferenceNumber),
		OperatorID:         strings.TrimSpace(body.OperatorID),
		Mode:               mode,
		PalletType:         pallet,
		PackageType:        pkg,
		PalletCount:        body.PalletCount,
		PackageCount:       body.PackageCount,
		Amounts:            amounts,
	}, nil
}

func expandAmounts(kind domain.LabelKind, body submitBatchRequest) ([]string, error) {
	if body.Quantity == nil {
		amounts := make([]string, 0, len(body.Amounts))
		for _, a := range body.Amounts {
			amounts = append(amounts, strings.TrimSpace(string(a)))
		}
		return amounts, nil
	}

	if kind != domain.LabelKindQC {
		return nil, fmt.Errorf("%w: quantity and count are only supported for QC labels", domain.ErrValidation)
	}
	if len(body.Amounts) > 0 {
		return nil, fmt.Errorf("%w: send either amounts or quantity and count", domain.ErrValidation)
	}
	if body.Count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", domain.ErrValidation)
	}
	if body.Count > domain.MaxBatchItems {
		return nil, fmt.Errorf("%w: batch exceeds %d labels", domain.ErrValidation, domain.MaxBatchItems)
	}

	quantity := strings.TrimSpace(string(*body.Quantity))
	amounts := make([]string, body.Count)
	for i := range amounts {
		amounts[i] = quantity
	}
	return amounts, nil
}

func toBatchResultResponse(r *domain.BatchResult) batchResultResponse {
	response := batchResultResponse{
		BatchID:    r.BatchID,
		Outcome:    r.Outcome.String(),
		Total:      r.Total,
		Succeeded:  r.Succeeded,
		Failures:   r.Failures,
		Progress:   r.Snapshot,
		PrintJobID: r.PrintJobID,
	}
	if r.Notice.Level != domain.NoticeNone {
		notice := r.Notice
		response.Notice = &notice
	}
	return response
}

func toBatchResponse(view *service.BatchView) batchResponse {
	b := view.Batch
	pallets := make([]palletResponse, 0, len(view.Pallets))
	for _, p := range view.Pallets {
		pallets = append(pallets, palletResponse{
			PalletNumber: p.PalletNumber,
			Series:       p.Series,
			ItemIndex:    p.ItemIndex,
			Amount:       p.Amount,
			GrossAmount:  p.GrossAmount,
			CreatedAt:    p.CreatedAt,
		})
	}

	return batchResponse{
		ID:              b.ID,
		Kind:            b.Kind.String(),
		ProductCode:     b.ProductCode,
		SupplierCode:    b.CounterpartyCode,
		ReferenceNumber: b.ReferenceNumber,
		OperatorID:      b.OperatorID,
		Mode:            b.Mode.String(),
		PalletType:      b.PalletTypeLabel,
		PackageType:     b.PackageTypeLabel,
		PalletCount:     b.PalletCount,
		PackageCount:    b.PackageCount,
		TotalCount:      b.TotalCount,
		Status:          b.Status.String(),
		StatusReason:    b.StatusReason,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		Pallets:         pallets,
	}
}

func toHTTPError(c *fiber.Ctx, err error) error {
	transport.SetRetryAfter(c, err)
	return fiber.NewError(transport.StatusCode(err), err.Error())
}
