// Package escalation maps an account's strike count to its suspension.
package escalation

import (
	"time"

	"github.com/iurnickita/sugarrush/internal/model"
)

// Tier suspends an account for Duration when its strike count reaches
// exactly Strikes.
type Tier struct {
	Strikes  int           `yaml:"strikes"`
	Duration time.Duration `yaml:"duration"`
}

type Policy struct {
	Tiers []Tier `yaml:"tiers"`
	// PermanentAt suspends permanently from this strike count on.
	PermanentAt int `yaml:"permanent_at"`
	// ResetStrikesOnUnban makes a manual unban also clear the strike count.
	ResetStrikesOnUnban bool `yaml:"reset_strikes_on_unban"`
}

const day = 24 * time.Hour

func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{Strikes: 3, Duration: 7 * day},
			{Strikes: 6, Duration: 30 * day},
		},
		PermanentAt: 9,
	}
}

type EffectKind string

const (
	EffectNone      EffectKind = "none"
	EffectTimed     EffectKind = "timed"
	EffectPermanent EffectKind = "permanent"
)

// Effect describes what a single strike changed.
type Effect struct {
	Strikes int
	Kind    EffectKind
	Until   time.Time
}

// ApplyStrike adds one strike and derives the suspension from the new count.
// Timed tiers fire on exact equality, so striking past a tier does not renew
// it; the permanent tier holds for every count at or above PermanentAt.
func (p Policy) ApplyStrike(acct model.Account, now time.Time) (model.Account, Effect) {
	acct.StrikeCount++
	effect := Effect{Strikes: acct.StrikeCount, Kind: EffectNone}

	if p.PermanentAt > 0 && acct.StrikeCount >= p.PermanentAt {
		acct.Suspension = model.Suspension{Kind: model.SuspensionPermanent}
		effect.Kind = EffectPermanent
		return acct, effect
	}
	if acct.Suspension.Kind == model.SuspensionPermanent {
		return acct, effect
	}
	for _, tier := range p.Tiers {
		if tier.Strikes != acct.StrikeCount {
			continue
		}
		until := now.Add(tier.Duration)
		// a longer manual ban is never shortened
		if acct.Suspension.Active(now) && acct.Suspension.Until.After(until) {
			until = acct.Suspension.Until
		}
		acct.Suspension = model.Suspension{Kind: model.SuspensionTimed, Until: until}
		effect.Kind = EffectTimed
		effect.Until = until
		break
	}
	return acct, effect
}

// Unban lifts any suspension. The strike count survives unless the policy
// says otherwise.
func (p Policy) Unban(acct model.Account) model.Account {
	acct.Suspension = model.Suspension{Kind: model.SuspensionNone}
	if p.ResetStrikesOnUnban {
		acct.StrikeCount = 0
	}
	return acct
}

// Ban is the manual suspension: zero duration means permanent.
func Ban(acct model.Account, now time.Time, duration time.Duration) model.Account {
	if duration <= 0 {
		acct.Suspension = model.Suspension{Kind: model.SuspensionPermanent}
		return acct
	}
	acct.Suspension = model.Suspension{Kind: model.SuspensionTimed, Until: now.Add(duration)}
	return acct
}
