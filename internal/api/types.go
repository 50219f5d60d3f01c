package api

import (
	"net/http"
	"time"

	"github.com/exphub-io/exphub/internal/analysis"
	"github.com/exphub-io/exphub/internal/assignment"
	"github.com/exphub-io/exphub/internal/experiment"
	"github.com/exphub-io/exphub/internal/ingestion"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// VariantRequest is one variant entry in an experiment creation request.
	VariantRequest struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Allocation float64 `json:"allocation"`
	}

	// CreateExperimentRequest is the payload for POST /api/v1/experiments.
	// Separate from the domain model to decouple the API contract from
	// internal types.
	CreateExperimentRequest struct {
		ID          string           `json:"id"`
		Name        string           `json:"name"`
		Description string           `json:"description,omitempty"`
		StartAt     time.Time        `json:"start_at"`
		EndAt       time.Time        `json:"end_at"`
		Variants    []VariantRequest `json:"variants"`
	}

	// TransitionRequest is the payload for POST /api/v1/experiments/{id}/status.
	TransitionRequest struct {
		Status string `json:"status"`
	}

	// VariantResponse is one variant in an experiment response.
	VariantResponse struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Allocation float64 `json:"allocation"`
	}

	// ExperimentResponse is the API representation of an experiment.
	ExperimentResponse struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		Description string            `json:"description,omitempty"`
		Status      string            `json:"status"`
		StartAt     *time.Time        `json:"start_at,omitempty"`
		EndAt       *time.Time        `json:"end_at,omitempty"`
		Variants    []VariantResponse `json:"variants"`
	}

	// AssignRequest is the payload for assignment requests.
	AssignRequest struct {
		UserID string `json:"user_id"`
	}

	// AssignmentResponse is the API representation of an assignment.
	AssignmentResponse struct {
		UserID       string    `json:"user_id"`
		ExperimentID string    `json:"experiment_id"`
		VariantID    string    `json:"variant_id"`
		AssignedAt   time.Time `json:"assigned_at"`
	}

	// EventRequest is one event in an ingestion batch.
	EventRequest struct {
		ID           string            `json:"id"`
		UserID       string            `json:"user_id"`
		ExperimentID string            `json:"experiment_id"`
		EventType    string            `json:"event_type"`
		Timestamp    time.Time         `json:"timestamp"`
		Value        *float64          `json:"value,omitempty"`
		Metadata     map[string]string `json:"metadata,omitempty"`
	}

	// EventBatchResponse is the batch ingestion response. Only failed events
	// are listed individually; duplicates are idempotent successes.
	EventBatchResponse struct {
		Status        string        `json:"status"`
		Summary       BatchSummary  `json:"summary"`
		FailedEvents  []FailedEvent `json:"failed_events"`
		CorrelationID string        `json:"correlation_id"`
		Timestamp     string        `json:"timestamp"`
	}

	// BatchSummary provides aggregate counts for batch processing.
	BatchSummary struct {
		Received   int `json:"received"`
		Appended   int `json:"appended"`
		Duplicates int `json:"duplicates"`
		Failed     int `json:"failed"`
	}

	// FailedEvent describes a single failed event in a batch.
	FailedEvent struct {
		Index  int    `json:"index"`
		Reason string `json:"reason"`
	}

	// VariantSummaryResponse is one variant's results in a summary response.
	// A variant with no exposures has no conversion_rate field at all; a
	// defined 0% rate serializes as 0.
	VariantSummaryResponse struct {
		VariantID      string   `json:"variant_id"`
		Name           string   `json:"name"`
		Allocation     float64  `json:"allocation"`
		Assigned       int      `json:"assigned"`
		Exposed        int      `json:"exposed"`
		Converted      int      `json:"converted"`
		ConversionRate *float64 `json:"conversion_rate,omitempty"`
		TotalValue     float64  `json:"total_value"`
		MeanValue      *float64 `json:"mean_value,omitempty"`
	}

	// ComparisonResponse is one variant-versus-control significance test.
	// relative_lift is a percentage (50 means +50%), omitted when the control
	// rate is zero.
	ComparisonResponse struct {
		ControlID          string   `json:"control_id"`
		VariantID          string   `json:"variant_id"`
		ChiSquare          float64  `json:"chi_square"`
		Significance       string   `json:"significance"`
		AbsoluteDifference float64  `json:"absolute_difference"`
		RelativeLift       *float64 `json:"relative_lift,omitempty"`
	}

	// VariantRatioResponse is one variant's expected versus observed share.
	VariantRatioResponse struct {
		VariantID     string  `json:"variant_id"`
		ExpectedShare float64 `json:"expected_share"`
		ObservedShare float64 `json:"observed_share"`
		Deviation     float64 `json:"deviation"`
	}

	// SRMCheckResponse reports the sample ratio mismatch check.
	SRMCheckResponse struct {
		TotalAssigned int                    `json:"total_assigned"`
		Ratios        []VariantRatioResponse `json:"ratios"`
		MaxDeviation  float64                `json:"max_deviation"`
		Tolerance     float64                `json:"tolerance"`
		Mismatch      bool                   `json:"mismatch"`
	}

	// SegmentResultResponse is one variant's outcome within a segment.
	SegmentResultResponse struct {
		VariantID      string  `json:"variant_id"`
		Exposed        int     `json:"exposed"`
		Converted      int     `json:"converted"`
		ConversionRate float64 `json:"conversion_rate"`
	}

	// SegmentFindingResponse is the analysis of one metadata segment.
	SegmentFindingResponse struct {
		Key      string                  `json:"key"`
		Value    string                  `json:"value"`
		Results  []SegmentResultResponse `json:"results"`
		WinnerID string                  `json:"winner_id,omitempty"`
		Diverges bool                    `json:"diverges"`
	}

	// SummaryResponse is the full analysis response for one experiment.
	SummaryResponse struct {
		ExperimentID string                   `json:"experiment_id"`
		GeneratedAt  time.Time                `json:"generated_at"`
		Variants     []VariantSummaryResponse `json:"variants"`
		Comparisons  []ComparisonResponse     `json:"comparisons"`
		SRM          SRMCheckResponse         `json:"srm"`
		Segments     []SegmentFindingResponse `json:"segments"`
		WinnerID     string                   `json:"winner_id,omitempty"`
	}

	// SampleSizeResponse is the sample size calculator response. The inputs
	// are echoed back so a saved response is self-describing.
	SampleSizeResponse struct {
		PerVariant   int     `json:"per_variant"`
		BaselineRate float64 `json:"baseline_rate"`
		MDE          float64 `json:"mde"`
		Alpha        float64 `json:"alpha"`
		Power        float64 `json:"power"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string
		Handler http.HandlerFunc
	}
)

// mapExperimentRequest maps a creation request to the domain model. Status is
// left empty so the registry applies its planned default; validation is
// delegated to the domain layer, which owns its invariants.
func mapExperimentRequest(req *CreateExperimentRequest) *experiment.Experiment {
	variants := make([]experiment.Variant, len(req.Variants))
	for i, v := range req.Variants {
		variants[i] = experiment.Variant{ID: v.ID, Name: v.Name, Allocation: v.Allocation}
	}

	return &experiment.Experiment{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Variants:    variants,
	}
}

// mapExperimentResponse maps a domain experiment to its API representation.
// Zero time windows are omitted rather than serialized as the zero time.
func mapExperimentResponse(exp *experiment.Experiment) *ExperimentResponse {
	variants := make([]VariantResponse, len(exp.Variants))
	for i, v := range exp.Variants {
		variants[i] = VariantResponse{ID: v.ID, Name: v.Name, Allocation: v.Allocation}
	}

	resp := &ExperimentResponse{
		ID:          exp.ID,
		Name:        exp.Name,
		Description: exp.Description,
		Status:      exp.Status.String(),
		Variants:    variants,
	}

	if !exp.StartAt.IsZero() {
		startAt := exp.StartAt
		resp.StartAt = &startAt
	}

	if !exp.EndAt.IsZero() {
		endAt := exp.EndAt
		resp.EndAt = &endAt
	}

	return resp
}

// mapAssignmentResponse maps a domain assignment to its API representation.
func mapAssignmentResponse(a *assignment.Assignment) *AssignmentResponse {
	return &AssignmentResponse{
		UserID:       a.UserID,
		ExperimentID: a.ExperimentID,
		VariantID:    a.VariantID,
		AssignedAt:   a.AssignedAt,
	}
}

// mapEventRequest maps an API event to the domain model. Validation is
// delegated to ingestion.Event.Validate.
func mapEventRequest(req *EventRequest) *ingestion.Event {
	return &ingestion.Event{
		ID:           req.ID,
		UserID:       req.UserID,
		ExperimentID: req.ExperimentID,
		Type:         req.EventType,
		Timestamp:    req.Timestamp,
		Value:        req.Value,
		Metadata:     req.Metadata,
	}
}

// mapSummaryResponse maps a domain analysis summary to its API representation.
func mapSummaryResponse(summary *analysis.Summary) *SummaryResponse {
	variants := make([]VariantSummaryResponse, len(summary.Variants))
	for i, v := range summary.Variants {
		variants[i] = VariantSummaryResponse{
			VariantID:      v.VariantID,
			Name:           v.Name,
			Allocation:     v.Allocation,
			Assigned:       v.Assigned,
			Exposed:        v.Exposed,
			Converted:      v.Converted,
			ConversionRate: v.ConversionRate,
			TotalValue:     v.TotalValue,
			MeanValue:      v.MeanValue,
		}
	}

	comparisons := make([]ComparisonResponse, len(summary.Comparisons))
	for i, c := range summary.Comparisons {
		comparisons[i] = ComparisonResponse{
			ControlID:          c.ControlID,
			VariantID:          c.VariantID,
			ChiSquare:          c.ChiSquare,
			Significance:       string(c.Significance),
			AbsoluteDifference: c.AbsoluteDifference,
			RelativeLift:       c.RelativeLift,
		}
	}

	ratios := make([]VariantRatioResponse, len(summary.SRM.Ratios))
	for i, ratio := range summary.SRM.Ratios {
		ratios[i] = VariantRatioResponse{
			VariantID:     ratio.VariantID,
			ExpectedShare: ratio.ExpectedShare,
			ObservedShare: ratio.ObservedShare,
			Deviation:     ratio.Deviation,
		}
	}

	segments := make([]SegmentFindingResponse, len(summary.Segments))
	for i, seg := range summary.Segments {
		results := make([]SegmentResultResponse, len(seg.Results))
		for j, res := range seg.Results {
			results[j] = SegmentResultResponse{
				VariantID:      res.VariantID,
				Exposed:        res.Exposed,
				Converted:      res.Converted,
				ConversionRate: res.ConversionRate,
			}
		}

		segments[i] = SegmentFindingResponse{
			Key:      seg.Key,
			Value:    seg.Value,
			Results:  results,
			WinnerID: seg.WinnerID,
			Diverges: seg.Diverges,
		}
	}

	return &SummaryResponse{
		ExperimentID: summary.ExperimentID,
		GeneratedAt:  summary.GeneratedAt,
		Variants:     variants,
		Comparisons:  comparisons,
		SRM: SRMCheckResponse{
			TotalAssigned: summary.SRM.TotalAssigned,
			Ratios:        ratios,
			MaxDeviation:  summary.SRM.MaxDeviation,
			Tolerance:     summary.SRM.Tolerance,
			Mismatch:      summary.SRM.Mismatch,
		},
		Segments: segments,
		WinnerID: summary.WinnerID,
	}
}
