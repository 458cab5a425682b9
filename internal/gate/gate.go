package gate

import (
	"strings"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/policy"
	"tradegate/internal/signal"

	"github.com/google/uuid"
)

// Outcome 终态：REVISE 在学习 profile 下折叠为降仓位的 APPROVE，不单独出现。
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

// Reason codes for rejection, consumed by counterfactual tracking.
const (
	ReasonBelowTrust       = "below_trust_threshold"
	ReasonBelowConfidence  = "below_confidence_threshold"
	ReasonBelowSignal      = "below_signal_threshold"
	ReasonUpstreamReject   = "upstream_reject"
	ReasonReviseNotAllowed = "revise_not_allowed"
	ReasonZeroConfidence   = "zero_confidence"
	ReasonMalformedVerdict = "malformed_verdict"
	ReasonInternalError    = "internal_error"
)

// Provenance tags so later analysis can separate normal approvals from
// override approvals.
const (
	TagReviseOverride     = "revise_override"
	TagConfidenceInferred = "confidence_inferred"
	TagProductionOverlay  = "production_overlay"
)

const (
	// probeSizeMultiplier 学习 profile 下 REVISE 试探单的仓位系数。
	probeSizeMultiplier = 0.3

	// Confidence defaults inferred for "unknown" (zero) upstream confidence,
	// learning profile only. Distinct per outcome category so analysis can
	// discount them separately.
	inferredApproveConfidence = 60.0
	inferredReviseConfidence  = 40.0
)

// Verdict is the output of one decision.
type Verdict struct {
	TraceID        string    `json:"trace_id"`
	SignalID       string    `json:"signal_id"`
	Outcome        Outcome   `json:"outcome"`
	SizeMultiplier float64   `json:"size_multiplier"`
	Reason         string    `json:"reason,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Confidence     float64   `json:"confidence"`
	SourceScore    float64   `json:"source_score"`
	DecidedAt      time.Time `json:"decided_at"`
}

func (v Verdict) Approved() bool { return v.Outcome == OutcomeApprove }

// Input carries everything one decision needs. Mode and thresholds are
// threaded in explicitly; the gate never reads ambient process state.
type Input struct {
	Signal          signal.CandidateSignal
	Deliberation    signal.Deliberation
	Mode            policy.ModeState
	Profile         string
	Thresholds      policy.EffectiveThresholds
	LearningProfile bool
	SourceScore     float64
}

// Gate is the single place mode-dependent decision behavior lives. All
// enforcement points route through Evaluate so the overlay, REVISE handling
// and confidence inference cannot drift apart across call sites.
type Gate struct{}

func New() *Gate { return &Gate{} }

// Evaluate runs the decision state machine. It always returns a verdict;
// the safe failure direction for any internal problem is REJECT, never a
// default approve.
func (g *Gate) Evaluate(in Input) Verdict {
	v := Verdict{
		TraceID:        uuid.NewString(),
		SignalID:       in.Signal.ID,
		SizeMultiplier: 1.0,
		SourceScore:    in.SourceScore,
		DecidedAt:      time.Now().UTC(),
	}
	if in.Thresholds.Overlaid {
		v.Tags = append(v.Tags, TagProductionOverlay)
	}

	if err := in.Mode.Validate(); err != nil {
		logger.Errorf("gate: mode state invalid, fail closed: %v", err)
		return reject(v, ReasonInternalError)
	}

	// Threshold pass first. No override path applies here: a score below its
	// minimum is a rejection in every mode and profile.
	switch {
	case in.Signal.TrustScore < in.Thresholds.MinTrust:
		return reject(v, ReasonBelowTrust)
	case in.Signal.Confidence < in.Thresholds.MinConfidence:
		return reject(v, ReasonBelowConfidence)
	case in.Signal.SignalScore < in.Thresholds.MinSignal:
		return reject(v, ReasonBelowSignal)
	}

	// Overrides only exist in a learning profile outside production mode.
	failClosed := in.Mode.Operating == policy.ModeProduction || !in.LearningProfile

	verdict := strings.ToUpper(strings.TrimSpace(in.Deliberation.Verdict))
	confidence := in.Deliberation.Confidence

	switch verdict {
	case signal.VerdictReject:
		return reject(v, ReasonUpstreamReject)

	case signal.VerdictApprove:
		if confidence == 0 {
			if failClosed {
				// Production never infers: unknown confidence is a rejection.
				return reject(v, ReasonZeroConfidence)
			}
			confidence = inferredApproveConfidence
			v.Tags = append(v.Tags, TagConfidenceInferred)
		}
		v.Outcome = OutcomeApprove
		v.Confidence = confidence
		return v

	case signal.VerdictRevise:
		if failClosed {
			return reject(v, ReasonReviseNotAllowed)
		}
		if confidence == 0 {
			confidence = inferredReviseConfidence
			v.Tags = append(v.Tags, TagConfidenceInferred)
		}
		// Probe execution: harvest learning signal from the marginal case at
		// reduced size instead of discarding it.
		v.Outcome = OutcomeApprove
		v.SizeMultiplier = probeSizeMultiplier
		v.Confidence = confidence
		v.Tags = append(v.Tags, TagReviseOverride)
		return v

	default:
		logger.Warnf("gate: unknown upstream verdict %q for signal %s, fail closed", in.Deliberation.Verdict, in.Signal.ID)
		return reject(v, ReasonMalformedVerdict)
	}
}

func reject(v Verdict, reason string) Verdict {
	v.Outcome = OutcomeReject
	v.SizeMultiplier = 0
	v.Reason = reason
	return v
}
