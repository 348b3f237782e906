package ratelimit

import (
	"fmt"
	"sort"
	"time"
)

// Tier names.
const (
	TierBasic    = "basic"
	TierStandard = "standard"
	TierPremium  = "premium"
)

// Tier is a named pair of per-minute ceilings.
type Tier struct {
	Name              string `json:"name" yaml:"name"`
	TokensPerMinute   int64  `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	RequestsPerMinute int64  `json:"requests_per_minute" yaml:"requests_per_minute"`
}

var tiers = map[string]Tier{
	TierBasic:    {Name: TierBasic, TokensPerMinute: 100_000, RequestsPerMinute: 100},
	TierStandard: {Name: TierStandard, TokensPerMinute: 500_000, RequestsPerMinute: 500},
	TierPremium:  {Name: TierPremium, TokensPerMinute: 2_000_000, RequestsPerMinute: 2_000},
}

// LookupTier returns the tier with the given name.
func LookupTier(name string) (Tier, error) {
	t, ok := tiers[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w %q", ErrUnknownTier, name)
	}
	return t, nil
}

// Tiers returns every known tier, smallest first.
func Tiers() []Tier {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TokensPerMinute < out[j].TokensPerMinute
	})
	return out
}

// Options configures a Limiter.
type Options struct {
	Tier               string
	InitialRetryDelay  time.Duration
	MaxRetryDelay      time.Duration
	MaxRetries         int
	MaxPendingRequests int
	PendingTimeout     time.Duration
}

// DefaultOptions returns the standard tier with the stock backoff and queue shape.
func DefaultOptions() Options {
	return Options{
		Tier:               TierStandard,
		InitialRetryDelay:  time.Second,
		MaxRetryDelay:      60 * time.Second,
		MaxRetries:         5,
		MaxPendingRequests: 100,
		PendingTimeout:     30 * time.Second,
	}
}

// Validate checks that the options describe a usable limiter.
func (o Options) Validate() error {
	if _, err := LookupTier(o.Tier); err != nil {
		return err
	}
	switch {
	case o.InitialRetryDelay <= 0:
		return fmt.Errorf("ratelimit: initial retry delay must be positive")
	case o.MaxRetryDelay < o.InitialRetryDelay:
		return fmt.Errorf("ratelimit: max retry delay %s below initial delay %s", o.MaxRetryDelay, o.InitialRetryDelay)
	case o.MaxRetries <= 0:
		return fmt.Errorf("ratelimit: max retries must be positive")
	case o.MaxPendingRequests < 0:
		return fmt.Errorf("ratelimit: max pending requests must not be negative")
	case o.PendingTimeout <= 0:
		return fmt.Errorf("ratelimit: pending timeout must be positive")
	}
	return nil
}
