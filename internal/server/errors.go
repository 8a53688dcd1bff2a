package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tenantcore/internal/audit/domain"
	"github.com/smallbiznis/tenantcore/internal/auth"
	"github.com/smallbiznis/tenantcore/internal/authorization"
	organizationdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	provisioningdomain "github.com/smallbiznis/tenantcore/internal/provisioning/domain"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")

	// ErrStaleCredential marks a syntactically valid credential whose
	// membership no longer exists. Revocation takes effect on the next
	// request, not on token expiry.
	ErrStaleCredential = errors.New("stale_credential")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrStaleCredential),
		errors.Is(err, auth.ErrInvalidCredential),
		errors.Is(err, auth.ErrExpiredCredential),
		errors.Is(err, auth.ErrNotConfigured):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrMissingTenant),
		errors.Is(err, organizationdomain.ErrPermissionDenied):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, organizationdomain.ErrQuotaExceeded):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "quota_exceeded",
			Message: "quota exceeded",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, organizationdomain.ErrDuplicateSlug),
		errors.Is(err, organizationdomain.ErrDuplicateMember),
		errors.Is(err, organizationdomain.ErrLastOwner),
		errors.Is(err, organizationdomain.ErrStatusConflict),
		errors.Is(err, provisioningdomain.ErrProvisionInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		// A foreign tenant's resource and a missing resource produce the
		// identical payload; existence is never disclosed across tenants.
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isOrganizationValidationError(err),
		isQuotaValidationError(err),
		isAuditValidationError(err):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, organizationdomain.ErrNotFound),
		errors.Is(err, provisioningdomain.ErrRecordNotFound),
		errors.Is(err, quotadomain.ErrCounterNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isOrganizationValidationError(err error) bool {
	switch err {
	case organizationdomain.ErrInvalidName,
		organizationdomain.ErrInvalidSlug,
		organizationdomain.ErrInvalidTier,
		organizationdomain.ErrInvalidUser,
		organizationdomain.ErrInvalidOrganization,
		organizationdomain.ErrInvalidRole:
		return true
	default:
		return false
	}
}

func isQuotaValidationError(err error) bool {
	switch err {
	case quotadomain.ErrInvalidResourceType,
		quotadomain.ErrInvalidAmount,
		quotadomain.ErrInvalidOrganization:
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch err {
	case auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidAction:
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
