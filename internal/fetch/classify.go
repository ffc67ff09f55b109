package fetch

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

// IsDomain reports errors that are answers from a healthy store rather than
// failures of it.
func IsDomain(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrAmbiguousReviewerIdentity) ||
		errors.Is(err, domain.ErrInvalidNomination)
}

// IsInfrastructure reports connection loss, timeouts and server-side
// resource errors.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// connection exception, insufficient resources, operator intervention
		case "08", "53", "57":
			return true
		}
	}
	return false
}
