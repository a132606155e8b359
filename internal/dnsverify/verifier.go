// Package dnsverify proves hostname ownership by comparing live DNS
// records against the platform's canonical ingress target and the
// mapping's verification token. It never mutates mapping state; the
// state machine applies the verdict.
package dnsverify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Result struct {
	Success bool `json:"success"`
	// RetryAfterSeconds hints when a retry is worthwhile. Set on
	// transient failures (propagation delay, resolver timeouts).
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
	Errors            []string `json:"errors,omitempty"`
	CNAMEOk           bool     `json:"cname_ok"`
	TokenOk           bool     `json:"token_ok"`
}

type Verifier struct {
	resolver        Resolver
	cnameTarget     string
	challengePrefix string
	retryAfter      time.Duration
	logger          *zap.Logger
}

func NewVerifier(resolver Resolver, cnameTarget, challengePrefix string, retryAfter time.Duration, logger *zap.Logger) *Verifier {
	if challengePrefix == "" {
		challengePrefix = "_acme-challenge"
	}
	if retryAfter <= 0 {
		retryAfter = 300 * time.Second
	}
	return &Verifier{
		resolver:        resolver,
		cnameTarget:     strings.TrimSuffix(strings.ToLower(cnameTarget), "."),
		challengePrefix: challengePrefix,
		retryAfter:      retryAfter,
		logger:          logger,
	}
}

// ChallengeName returns the TXT record name that must carry the token.
func (v *Verifier) ChallengeName(hostname string) string {
	return v.challengePrefix + "." + hostname
}

// CNAMETarget is the canonical ingress hostname tenant DNS must point to.
func (v *Verifier) CNAMETarget() string {
	return v.cnameTarget
}

// VerifyOwnership checks both required records: the CNAME must equal the
// platform target exactly and the challenge TXT record must contain the
// token exactly. DNS propagation delay is an expected transient condition,
// so resolution failures come back as a retryable Result, not an error.
func (v *Verifier) VerifyOwnership(ctx context.Context, hostname, token string) *Result {
	result := &Result{}

	cname, err := v.resolver.LookupCNAME(ctx, hostname)
	if err != nil {
		return v.transient(result, fmt.Sprintf("CNAME lookup for %s failed: %v", hostname, err))
	}

	cname = strings.TrimSuffix(strings.ToLower(cname), ".")
	switch {
	case cname == "":
		v.transientMsg(result, fmt.Sprintf("no CNAME record found for %s; add a CNAME pointing to %s", hostname, v.cnameTarget))
	case cname != v.cnameTarget:
		v.transientMsg(result, fmt.Sprintf("%s points to %s, expected %s", hostname, cname, v.cnameTarget))
	default:
		result.CNAMEOk = true
	}

	challengeName := v.ChallengeName(hostname)
	txts, err := v.resolver.LookupTXT(ctx, challengeName)
	if err != nil {
		return v.transient(result, fmt.Sprintf("TXT lookup for %s failed: %v", challengeName, err))
	}

	if token == "" {
		// No token outstanding: this verification cycle was already
		// consumed. The caller decides whether that is an error.
		result.Errors = append(result.Errors, "no verification token outstanding for this mapping")
	} else if containsExact(txts, token) {
		result.TokenOk = true
	} else {
		v.transientMsg(result, fmt.Sprintf("verification token not found in TXT record at %s", challengeName))
	}

	result.Success = result.CNAMEOk && result.TokenOk
	if !result.Success && result.RetryAfterSeconds == 0 && token != "" {
		result.RetryAfterSeconds = int(v.retryAfter.Seconds())
	}

	if v.logger != nil {
		v.logger.Debug("DNS ownership verification",
			zap.String("hostname", hostname),
			zap.Bool("cname_ok", result.CNAMEOk),
			zap.Bool("token_ok", result.TokenOk),
		)
	}

	return result
}

// CheckCNAME is the read-only health variant: CNAME correctness only, no
// token requirement.
func (v *Verifier) CheckCNAME(ctx context.Context, hostname string) (bool, string, error) {
	cname, err := v.resolver.LookupCNAME(ctx, hostname)
	if err != nil {
		return false, "", err
	}
	cname = strings.TrimSuffix(strings.ToLower(cname), ".")
	return cname == v.cnameTarget, cname, nil
}

func (v *Verifier) transient(r *Result, msg string) *Result {
	r.Success = false
	r.Errors = append(r.Errors, msg)
	r.RetryAfterSeconds = int(v.retryAfter.Seconds())
	return r
}

func (v *Verifier) transientMsg(r *Result, msg string) {
	r.Errors = append(r.Errors, msg)
	r.RetryAfterSeconds = int(v.retryAfter.Seconds())
}

func containsExact(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
