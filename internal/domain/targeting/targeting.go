// Package targeting translates the hosting application's audience descriptor
// into the vendor's condition-based targeting profile.
//
// The full demographic mapping is not implemented. The default translator
// returns an empty profile, which the vendor treats as unrestricted
// targeting. Deployments that need real quotas plug in their own Translator.
package targeting

import (
	"context"

	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
)

// Translator maps an audience descriptor onto a targeting profile.
type Translator interface {
	Translate(ctx context.Context, audience model.AudienceDescriptor) (model.TargetingProfile, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, audience model.AudienceDescriptor) (model.TargetingProfile, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, audience model.AudienceDescriptor) (model.TargetingProfile, error) {
	return f(ctx, audience)
}

// Unrestricted always returns the empty profile.
type Unrestricted struct {
	logger logger.Logger
}

// Option applies a configuration option to Unrestricted.
type Option func(*Unrestricted)

// WithLogger sets the logger used to report dropped audience constraints.
func WithLogger(l logger.Logger) Option {
	return func(u *Unrestricted) {
		if l != nil {
			u.logger = l
		}
	}
}

// NewUnrestricted creates the default translator.
func NewUnrestricted(opts ...Option) *Unrestricted {
	u := &Unrestricted{logger: logger.Nop()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Translate returns an empty profile. A non-empty descriptor is logged
// because its constraints are not applied.
func (u *Unrestricted) Translate(ctx context.Context, audience model.AudienceDescriptor) (model.TargetingProfile, error) {
	if !audience.IsEmpty() {
		u.logger.Warn(ctx, "audience constraints not mapped; fielding unrestricted",
			logger.Any("countries", audience.Countries),
			logger.Int("min_age", audience.MinAge),
			logger.Int("max_age", audience.MaxAge),
		)
	}
	return model.TargetingProfile{}, nil
}
