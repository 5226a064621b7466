package printing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/remote"
)

const (
	defaultSpoolerTimeout = 30 * time.Second
	spoolerService        = "print"
)

var _ Printer = (*HTTPSpooler)(nil)

type spoolerRequest struct {
	JobID       string           `json:"jobId"`
	BatchID     string           `json:"batchId"`
	Kind        domain.LabelKind `json:"kind"`
	ProductCode string           `json:"productCode"`
	OperatorID  string           `json:"operatorId"`
	Labels      []spoolerLabel   `json:"labels"`
}

// spoolerLabel carries the PDF as base64 through encoding/json.
type spoolerLabel struct {
	Index        int    `json:"index"`
	PalletNumber string `json:"palletNumber"`
	Series       string `json:"series"`
	PDF          []byte `json:"pdf"`
}

// HTTPSpooler posts print jobs to a spooler HTTP endpoint.
type HTTPSpooler struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPSpooler(endpoint string) (*HTTPSpooler, error) {
	client := resty.New()
	client.SetTimeout(defaultSpoolerTimeout)
	client.SetRetryCount(0)

	return NewHTTPSpoolerWithClient(endpoint, client)
}

func NewHTTPSpoolerWithClient(endpoint string, client *resty.Client) (*HTTPSpooler, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("print endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid print endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSpoolerTimeout)
	}
	// Print submissions are never retried: a retry could print twice.
	client.SetRetryCount(0)

	return &HTTPSpooler{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPSpooler) Print(ctx context.Context, job PrintJob) (*PrintReceipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("spooler is not initialized")
	}
	if len(job.Labels) == 0 {
		return nil, fmt.Errorf("%w: print job %s has no labels", domain.ErrNothingToPrint, job.JobID)
	}

	reqBody := spoolerRequest{
		JobID:       job.JobID,
		BatchID:     job.BatchID,
		Kind:        job.Kind,
		ProductCode: job.ProductCode,
		OperatorID:  job.OperatorID,
		Labels:      make([]spoolerLabel, 0, len(job.Labels)),
	}
	for _, l := range job.Labels {
		reqBody.Labels = append(reqBody.Labels, spoolerLabel{
			Index:        l.Index,
			PalletNumber: l.Identifier.PalletNumber,
			Series:       l.Identifier.Series,
			PDF:          l.Payload,
		})
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", job.JobID).
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &remote.Error{
			Service:   spoolerService,
			Message:   "print request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &remote.Error{
			Service:   spoolerService,
			Message:   "print service returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &PrintReceipt{
			JobID:      job.JobID,
			StatusCode: statusCode,
			SpoolerRef: remote.RequestID(response.Header()),
		}, nil
	}

	return nil, &remote.Error{
		Service:    spoolerService,
		StatusCode: statusCode,
		Message:    remote.StatusMessage(spoolerService, statusCode, response.String()),
		Transient:  remote.IsTransientHTTPStatus(statusCode),
	}
}
