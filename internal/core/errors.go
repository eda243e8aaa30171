package core

import "errors"

var (
	// ErrCredentialMissing means no oracle API key is available for the
	// session.  The caller should collect one and retry analyze.
	ErrCredentialMissing = errors.New("diagnosis oracle credential missing")
	// ErrOracleUnavailable covers transport failures, non-2xx replies, an open
	// circuit breaker and timeouts.
	ErrOracleUnavailable = errors.New("diagnosis oracle unavailable")
	// ErrOracleResponseInvalid means the oracle replied with something that is
	// not a list of diagnosis objects.
	ErrOracleResponseInvalid = errors.New("diagnosis oracle response invalid")
	// ErrNoSymptomsRecorded is returned when collection is finished with an
	// empty symptom log.
	ErrNoSymptomsRecorded = errors.New("no symptoms recorded")
	// ErrAnalysisInProgress rejects analyze while a previous call is
	// outstanding.
	ErrAnalysisInProgress = errors.New("analysis already in progress")

	ErrEmptyMessage    = errors.New("empty message")
	ErrSessionNotFound = errors.New("session not found")
)

// replyFor maps an analysis failure to the message shown to the patient.
func replyFor(err error) string {
	switch {
	case errors.Is(err, ErrCredentialMissing):
		return CredentialMissingMessage
	case errors.Is(err, ErrOracleResponseInvalid):
		return InvalidResponseMessage
	case errors.Is(err, ErrNoSymptomsRecorded):
		return NoSymptomsMessage
	case errors.Is(err, ErrAnalysisInProgress):
		return AnalysisBusyMessage
	default:
		return OracleUnavailableMessage
	}
}
