package audit

import "errors"

// ErrStorageUnavailable means the event could not be persisted. Callers that
// gate actions on the audit trail must treat this as a denial (fail-closed).
var ErrStorageUnavailable = errors.New("audit storage unavailable")
