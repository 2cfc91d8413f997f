package events

const (
	// Scoring request/response pair for the external scoring worker.
	SubjectScoringRequest = "audit.scoring.request"
	SubjectScoringResult  = "audit.scoring.result"

	// Terminal-outcome summaries for downstream consumers.
	SubjectCompletion = "audit.completion"

	StreamName   = "CASEFLOW_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

func SubjectCaseCreated(caseID string) string   { return "audit.case." + caseID + ".created" }
func SubjectCaseClaimed(caseID string) string   { return "audit.case." + caseID + ".claimed" }
func SubjectCaseReleased(caseID string) string  { return "audit.case." + caseID + ".released" }
func SubjectCaseForwarded(caseID string) string { return "audit.case." + caseID + ".forwarded" }
func SubjectCaseCompleted(caseID string) string { return "audit.case." + caseID + ".completed" }
func SubjectCaseFallback(caseID string) string  { return "audit.case." + caseID + ".fallback" }
