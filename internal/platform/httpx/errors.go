// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/assetdesk/assetdesk/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	problem := ProblemDetail{Kind: kind, Detail: shared.UserSafeMessage(err)}
	switch kind {
	case shared.KindValidation:
		problem.Status, problem.Title = http.StatusBadRequest, "Validation Failed"
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			problem.Fields = verr.Fields
		}
	case shared.KindNotFound:
		problem.Status, problem.Title = http.StatusNotFound, "Not Found"
	case shared.KindConflict:
		problem.Status, problem.Title = http.StatusConflict, "Conflict"
	case shared.KindInsufficientStock:
		problem.Status, problem.Title = http.StatusUnprocessableEntity, "Insufficient Stock"
		var serr *shared.InsufficientStockError
		if errors.As(err, &serr) {
			problem.Shortages = serr.Shortages
		}
	default:
		problem.Status, problem.Title, problem.Kind = http.StatusInternalServerError, "Internal Error", shared.KindInternal
	}
	JSON(w, problem.Status, problem)
}
