package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/florinutz/deltashare/sharingerr"
)

// Error codes of the Delta Sharing error body.
const (
	codeInvalidParameter  = "INVALID_PARAMETER_VALUE"
	codeNotFound          = "RESOURCE_DOES_NOT_EXIST"
	codeUnsupportedTable  = "UNSUPPORTED_TABLE_FEATURES"
	codeInternal          = "INTERNAL_ERROR"
	codeUnavailable       = "TEMPORARILY_UNAVAILABLE"
	codeRateLimited       = "REQUEST_LIMIT_EXCEEDED"
	statusClientClosedReq = 499
)

type errorBody struct {
	ErrorCode       string   `json:"errorCode"`
	Message         string   `json:"message"`
	MissingFeatures []string `json:"missingFeatures,omitempty"`
	RequiredFormat  string   `json:"requiredResponseFormat,omitempty"`
}

// classify maps an error from the sharing core to a status and body.
func classify(err error) (int, errorBody) {
	var up *sharingerr.UnsupportedProtocolError
	switch {
	case errors.Is(err, sharingerr.ErrNotFound):
		return http.StatusNotFound, errorBody{ErrorCode: codeNotFound, Message: err.Error()}
	case errors.As(err, &up):
		return http.StatusBadRequest, errorBody{
			ErrorCode:       codeUnsupportedTable,
			Message:         err.Error(),
			MissingFeatures: up.MissingFeatures(),
			RequiredFormat:  up.FormatRequired,
		}
	case sharingerr.IsClientError(err):
		return http.StatusBadRequest, errorBody{ErrorCode: codeInvalidParameter, Message: err.Error()}
	case sharingerr.IsTransient(err):
		return http.StatusServiceUnavailable, errorBody{ErrorCode: codeUnavailable, Message: err.Error()}
	case sharingerr.IsDataError(err):
		return http.StatusInternalServerError, errorBody{ErrorCode: codeInternal, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return statusClientClosedReq, errorBody{ErrorCode: codeUnavailable, Message: "request canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorBody{ErrorCode: codeUnavailable, Message: "request timed out"}
	}
	// Details of unclassified errors stay in the log.
	return http.StatusInternalServerError, errorBody{ErrorCode: codeInternal, Message: "internal error"}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	switch {
	case status >= http.StatusInternalServerError:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status,
			"data_error", sharingerr.IsDataError(err), "error", err)
	case status == statusClientClosedReq:
		a.logger.Debug("request canceled", "path", r.URL.Path)
		return
	default:
		a.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}
