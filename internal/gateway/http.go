package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"portal-consent/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// RetryPolicy bounds transport-level retries. Retrying belongs here, at
// the gateway; the lifecycle manager never re-issues a failed decision.
type RetryPolicy struct {
	MaxAttempts int
	WaitTime    time.Duration
	MaxWaitTime time.Duration
}

// DefaultRetryPolicy matches the portal backend contract: 3 attempts with
// a short fixed backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		WaitTime:    1 * time.Second,
		MaxWaitTime: 5 * time.Second,
	}
}

// envelope is the portal backend response wrapper.
type envelope[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const envelopeSuccess = 2000

// HTTPGateway talks to the portal backend consent/organization API.
type HTTPGateway struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPGateway creates a gateway client against baseURL with the given
// retry policy.
func NewHTTPGateway(baseURL string, policy RetryPolicy, logger *zap.Logger) *HTTPGateway {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(policy.MaxAttempts - 1).
		SetRetryWaitTime(policy.WaitTime).
		SetRetryMaxWaitTime(policy.MaxWaitTime).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPGateway{
		httpClient: client,
		logger:     logger,
	}
}

var _ Gateway = (*HTTPGateway)(nil)

func (g *HTTPGateway) FetchOrganizations(ctx context.Context) ([]domain.Organization, error) {
	var response envelope[[]domain.Organization]
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		Get("/portal/api/v1/organizations")
	if err := g.check(resp, err, response.Code, response.Message, "fetch organizations"); err != nil {
		return nil, err
	}
	return response.Result, nil
}

func (g *HTTPGateway) FetchConsents(ctx context.Context, subjectID string) ([]domain.ConsentRecord, error) {
	var response envelope[[]domain.ConsentRecord]
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		Get(fmt.Sprintf("/portal/api/v1/subjects/%s/consents", subjectID))
	if err := g.check(resp, err, response.Code, response.Message, "fetch consents"); err != nil {
		return nil, err
	}
	return response.Result, nil
}

func (g *HTTPGateway) WriteConsent(ctx context.Context, subjectID string, rec domain.ConsentRecord) (*domain.ConsentRecord, error) {
	var response envelope[domain.ConsentRecord]
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(rec).
		SetResult(&response).
		Post(fmt.Sprintf("/portal/api/v1/subjects/%s/consents", subjectID))
	if err := g.check(resp, err, response.Code, response.Message, "write consent"); err != nil {
		return nil, err
	}
	out := response.Result
	return &out, nil
}

type softDeleteRequest struct {
	Scope   string   `json:"scope"`
	Exclude []string `json:"exclude,omitempty"`
	ActorID string   `json:"actor_id,omitempty"`
}

func (g *HTTPGateway) SoftDeleteConsents(ctx context.Context, subjectID, scopeOrgID string, exclude []string, actorID string) error {
	var response envelope[any]
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(softDeleteRequest{Scope: scopeOrgID, Exclude: exclude, ActorID: actorID}).
		SetResult(&response).
		Post(fmt.Sprintf("/portal/api/v1/subjects/%s/consents/soft-delete", subjectID))
	return g.check(resp, err, response.Code, response.Message, "soft-delete consents")
}

type withdrawRequest struct {
	OrganizationID  string `json:"org_id"`
	ResearchStudyID string `json:"research_study_id"`
	ActorID         string `json:"actor_id,omitempty"`
}

func (g *HTTPGateway) WithdrawConsent(ctx context.Context, subjectID, orgID, researchStudyID, actorID string) (*domain.ConsentRecord, error) {
	var response envelope[domain.ConsentRecord]
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(withdrawRequest{OrganizationID: orgID, ResearchStudyID: researchStudyID, ActorID: actorID}).
		SetResult(&response).
		Post(fmt.Sprintf("/portal/api/v1/subjects/%s/consents/withdraw", subjectID))
	if err := g.check(resp, err, response.Code, response.Message, "withdraw consent"); err != nil {
		return nil, err
	}
	out := response.Result
	return &out, nil
}

// check folds transport errors, HTTP status and envelope codes into one
// gateway error. Resty has already exhausted the retry budget by the time
// an error reaches here.
func (g *HTTPGateway) check(resp *resty.Response, err error, code int, message, op string) error {
	if err != nil {
		g.logger.Error("gateway call failed",
			zap.String("op", op),
			zap.Error(err))
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		g.logger.Error("gateway returned server error",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode()))
		return fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, resp.StatusCode())
	}
	if code != envelopeSuccess {
		g.logger.Error("gateway returned error envelope",
			zap.String("op", op),
			zap.Int("code", code),
			zap.String("message", message))
		return fmt.Errorf("%s: gateway error %d: %s", op, code, message)
	}
	return nil
}
