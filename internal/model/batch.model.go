package model

// BatchResult summarizes one dispatch request.
type BatchResult struct {
	Total     int                `json:"total"`
	Sent      int                `json:"sent"`
	Failed    int                `json:"failed"`
	Successes []*DispatchOutcome `json:"successes"`
	Failures  []*DispatchOutcome `json:"failures"`
}

// DispatchOutcome is the per-recipient entry of a BatchResult.
type DispatchOutcome struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	TrackingID string `json:"trackingId,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewBatchResult() *BatchResult {
	return &BatchResult{
		Successes: []*DispatchOutcome{},
		Failures:  []*DispatchOutcome{},
	}
}

func (b *BatchResult) AddSuccess(o *DispatchOutcome) {
	b.Sent++
	b.Successes = append(b.Successes, o)
}

func (b *BatchResult) AddFailure(o *DispatchOutcome) {
	b.Failed++
	b.Failures = append(b.Failures, o)
}
