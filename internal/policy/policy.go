package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Mode 表示进程的运行模式：学习模式允许放宽的 profile，生产模式不允许。
type Mode string

const (
	ModeLearning   Mode = "LEARNING"
	ModeProduction Mode = "PRODUCTION"
)

var (
	// ErrModeIncoherent means the declared capital-risk mode and the
	// operating mode disagree. Always fatal, never auto-corrected.
	ErrModeIncoherent = errors.New("portfolio mode is PRODUCTION but operating mode is not")

	// ErrBelowSafetyFloor means an effective threshold ended up below the
	// hard-coded floor after the production overlay. This only happens when
	// the overlay is broken or bypassed, so it is fatal too.
	ErrBelowSafetyFloor = errors.New("effective threshold below safety floor")

	ErrProfileNotFound = errors.New("threshold profile not found")
)

// ParseMode normalizes a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LEARNING":
		return ModeLearning, nil
	case "PRODUCTION":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want LEARNING or PRODUCTION)", s)
	}
}

// ModeState 进程级模式状态，启动后只读。
type ModeState struct {
	Operating     Mode
	Portfolio     Mode
	ActiveProfile string
}

// NewModeState builds the process mode state and enforces mode coherence:
// live capital requires the production operating mode.
func NewModeState(operating, portfolio Mode, activeProfile string) (ModeState, error) {
	st := ModeState{
		Operating:     operating,
		Portfolio:     portfolio,
		ActiveProfile: strings.TrimSpace(activeProfile),
	}
	if err := st.Validate(); err != nil {
		return ModeState{}, err
	}
	return st, nil
}

// Validate re-checks mode coherence. Callers run this on every resolve, not
// only at load, so a corrupted state can never slip through a stale check.
func (s ModeState) Validate() error {
	if s.Operating != ModeLearning && s.Operating != ModeProduction {
		return fmt.Errorf("invalid operating mode %q", s.Operating)
	}
	if s.Portfolio != ModeLearning && s.Portfolio != ModeProduction {
		return fmt.Errorf("invalid portfolio mode %q", s.Portfolio)
	}
	if s.Portfolio == ModeProduction && s.Operating != ModeProduction {
		return ErrModeIncoherent
	}
	if s.ActiveProfile == "" {
		return fmt.Errorf("active profile cannot be empty")
	}
	return nil
}

// ThresholdProfile 命名的门限配置。Learning 标记该 profile 允许试探性放行。
type ThresholdProfile struct {
	Name          string  `mapstructure:"-"`
	MinTrust      float64 `mapstructure:"min_trust_score"`
	MinConfidence float64 `mapstructure:"min_confidence_score"`
	MinSignal     float64 `mapstructure:"min_signal_score"`
	Learning      bool    `mapstructure:"learning"`
}

// EffectiveThresholds is the single resolved set of gate minimums for one
// decision context. Exactly three named fields; loose string-keyed lookups
// are not allowed anywhere downstream.
type EffectiveThresholds struct {
	MinTrust      float64
	MinConfidence float64
	MinSignal     float64
	// Overlaid records whether the production overlay replaced the profile
	// values, for provenance in verdict tags.
	Overlaid bool
}

// productionThresholds is the fixed strict triple overlaid in PRODUCTION mode
// regardless of profile content.
var productionThresholds = EffectiveThresholds{
	MinTrust:      70,
	MinConfidence: 60,
	MinSignal:     70,
}

// safetyFloor is the hard lower bound re-checked after the overlay. It exists
// to catch a broken or bypassed overlay, so it is verified independently of
// whatever was read from configuration.
var safetyFloor = EffectiveThresholds{
	MinTrust:      50,
	MinConfidence: 50,
	MinSignal:     50,
}

// ProductionThresholds returns the strict triple (copy).
func ProductionThresholds() EffectiveThresholds { return productionThresholds }

// ProfileSource 提供按名称查找 profile 的能力（支持热更新的快照实现）。
type ProfileSource interface {
	Profile(name string) (ThresholdProfile, bool)
}

// ProfileSourceFunc adapts a plain function to ProfileSource.
type ProfileSourceFunc func(name string) (ThresholdProfile, bool)

func (f ProfileSourceFunc) Profile(name string) (ThresholdProfile, bool) { return f(name) }

// Resolver resolves the effective thresholds for one decision context. It is
// a pure function over (mode state, profile source); callers invoke it once
// per decision rather than caching, so profile edits take effect immediately.
type Resolver struct {
	profiles ProfileSource
}

func NewResolver(profiles ProfileSource) *Resolver {
	return &Resolver{profiles: profiles}
}

// Resolve looks up the named profile, applies the unconditional production
// overlay, then re-validates against the safety floor. Any error returned
// from here is a configuration error: the caller must refuse to proceed with
// the decision, never warn and continue.
func (r *Resolver) Resolve(mode ModeState, profileName string) (EffectiveThresholds, error) {
	if err := mode.Validate(); err != nil {
		return EffectiveThresholds{}, err
	}
	if r == nil || r.profiles == nil {
		return EffectiveThresholds{}, fmt.Errorf("resolver has no profile source")
	}
	name := strings.TrimSpace(profileName)
	if name == "" {
		name = mode.ActiveProfile
	}
	prof, ok := r.profiles.Profile(name)
	if !ok {
		return EffectiveThresholds{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	eff := EffectiveThresholds{
		MinTrust:      prof.MinTrust,
		MinConfidence: prof.MinConfidence,
		MinSignal:     prof.MinSignal,
	}
	if mode.Operating == ModeProduction {
		// Unconditional: applied after profile lookup so a tampered or stale
		// profile cannot relax production behavior. The floor check runs on
		// the overlaid values precisely because it guards against the overlay
		// itself being broken.
		eff = productionThresholds
		eff.Overlaid = true
		if err := checkFloor(eff); err != nil {
			return EffectiveThresholds{}, err
		}
	}
	return eff, nil
}

func checkFloor(eff EffectiveThresholds) error {
	if eff.MinTrust < safetyFloor.MinTrust {
		return fmt.Errorf("%w: min_trust_score %.1f < %.1f", ErrBelowSafetyFloor, eff.MinTrust, safetyFloor.MinTrust)
	}
	if eff.MinConfidence < safetyFloor.MinConfidence {
		return fmt.Errorf("%w: min_confidence_score %.1f < %.1f", ErrBelowSafetyFloor, eff.MinConfidence, safetyFloor.MinConfidence)
	}
	if eff.MinSignal < safetyFloor.MinSignal {
		return fmt.Errorf("%w: min_signal_score %.1f < %.1f", ErrBelowSafetyFloor, eff.MinSignal, safetyFloor.MinSignal)
	}
	return nil
}

// IsLearningProfile reports whether the named profile allows probe approvals.
// Unknown profiles are never treated as learning (fail closed).
func (r *Resolver) IsLearningProfile(name string) bool {
	if r == nil || r.profiles == nil {
		return false
	}
	prof, ok := r.profiles.Profile(strings.TrimSpace(name))
	return ok && prof.Learning
}
