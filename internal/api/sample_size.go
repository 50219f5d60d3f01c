package api

import (
	"net/http"
	"strconv"

	"github.com/exphub-io/exphub/internal/stats"
)

// sampleSizeParams holds parsed query parameters for the sample size
// calculator.
type sampleSizeParams struct {
	baselineRate float64
	mde          float64
	alpha        float64
	power        float64
}

// handleSampleSize handles GET /api/v1/sample-size.
//
// Query parameters:
//   - baseline_rate: current conversion rate in (0,1), required
//   - mde: relative minimum detectable effect, > 0, required
//   - alpha: significance level, one of 0.05, 0.10, 0.01 (default 0.05)
//   - power: statistical power, one of 0.8, 0.9, 0.7 (default 0.8)
//
// Response codes:
//   - 200 OK: per-variant sample size with the inputs echoed back
//   - 400 Bad Request: missing, unparseable, or out-of-range parameters
func (s *Server) handleSampleSize(w http.ResponseWriter, r *http.Request) {
	params, err := parseSampleSizeParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	perVariant, err := stats.RequiredSampleSize(params.baselineRate, params.mde, params.alpha, params.power)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromDomainError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, &SampleSizeResponse{
		PerVariant:   perVariant,
		BaselineRate: params.baselineRate,
		MDE:          params.mde,
		Alpha:        params.alpha,
		Power:        params.power,
	})
}

// parseSampleSizeParams parses and validates the calculator's query
// parameters. Range validation beyond parseability is left to the stats
// package, which owns those invariants.
func parseSampleSizeParams(r *http.Request) (*sampleSizeParams, error) {
	q := r.URL.Query()

	params := &sampleSizeParams{
		alpha: stats.DefaultAlpha,
		power: stats.DefaultPower,
	}

	baselineRate, err := parseRequiredFloat(q.Get("baseline_rate"), "baseline_rate")
	if err != nil {
		return nil, err
	}

	params.baselineRate = baselineRate

	mde, err := parseRequiredFloat(q.Get("mde"), "mde")
	if err != nil {
		return nil, err
	}

	params.mde = mde

	if raw := q.Get("alpha"); raw != "" {
		alpha, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &paramError{param: "alpha", msg: "must be a valid number"}
		}

		params.alpha = alpha
	}

	if raw := q.Get("power"); raw != "" {
		power, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &paramError{param: "power", msg: "must be a valid number"}
		}

		params.power = power
	}

	return params, nil
}

// parseRequiredFloat parses a mandatory float query parameter.
func parseRequiredFloat(raw, name string) (float64, error) {
	if raw == "" {
		return 0, &paramError{param: name, msg: "is required"}
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &paramError{param: name, msg: "must be a valid number"}
	}

	return value, nil
}

// paramError represents a query parameter validation error.
type paramError struct {
	param string
	msg   string
}

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}
