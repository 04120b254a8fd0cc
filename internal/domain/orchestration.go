package domain

// OrchestrationResult is the validated shape of one classification.
//
// ReplyText, Intent, FlowType, Slots, NeedFollowup and EndFlow are the six
// fields the model must emit. IsComplaint and Confidence are optional extras
// that are normalized when present.
type OrchestrationResult struct {
	ReplyText    string
	Intent       string
	FlowType     *string
	Slots        map[string]any
	NeedFollowup bool
	EndFlow      bool
	IsComplaint  bool
	Confidence   *float64
}
