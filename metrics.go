package authkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus counters, registered against
// the Registerer supplied at construction. The engine leaves metrics
// nil when disabled.
type Metrics struct {
	SignInSuccess       prometheus.Counter
	SignInFailure       prometheus.Counter
	TwoFactorChallenges prometheus.Counter
	TwoFactorFailures   prometheus.Counter
	RefreshSuccess      prometheus.Counter
	RefreshFailure      prometheus.Counter
	RefreshReuse        prometheus.Counter
	SessionsRevoked     prometheus.Counter
	BackupCodesUsed     prometheus.Counter
}

// NewMetrics registers the engine counters. reg defaults to the global
// registry when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authkit",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	return &Metrics{
		SignInSuccess:       counter("signin_success_total", "Completed sign-ins."),
		SignInFailure:       counter("signin_failure_total", "Rejected sign-in attempts."),
		TwoFactorChallenges: counter("two_factor_challenges_total", "Sign-ins held for a second factor."),
		TwoFactorFailures:   counter("two_factor_failures_total", "Rejected two-factor codes."),
		RefreshSuccess:      counter("refresh_success_total", "Completed token rotations."),
		RefreshFailure:      counter("refresh_failure_total", "Rejected refresh attempts."),
		RefreshReuse:        counter("refresh_reuse_total", "Replays of already-rotated refresh tokens."),
		SessionsRevoked:     counter("sessions_revoked_total", "Device sessions revoked by users."),
		BackupCodesUsed:     counter("backup_codes_used_total", "Backup codes consumed at sign-in."),
	}
}
