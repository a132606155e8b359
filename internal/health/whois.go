package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
)

type registrationChecker func(ctx context.Context, hostname string, timeout time.Duration) (int, error)

// checkRegistrationExpiry looks up the registrable domain's WHOIS record
// and returns whole days until registration expiry. Advisory only.
func checkRegistrationExpiry(ctx context.Context, hostname string, timeout time.Duration) (int, error) {
	domain := registrableDomain(hostname)

	type whoisResult struct {
		days int
		err  error
	}
	done := make(chan whoisResult, 1)
	go func() {
		raw, err := whois.Whois(domain)
		if err != nil {
			done <- whoisResult{err: fmt.Errorf("whois lookup failed: %w", err)}
			return
		}
		parsed, err := whoisparser.Parse(raw)
		if err != nil {
			done <- whoisResult{err: fmt.Errorf("whois parse failed: %w", err)}
			return
		}
		if parsed.Domain.ExpirationDate == "" {
			done <- whoisResult{err: fmt.Errorf("no expiration date in whois record for %s", domain)}
			return
		}
		t, err := parseWhoisDate(parsed.Domain.ExpirationDate)
		if err != nil {
			done <- whoisResult{err: err}
			return
		}
		done <- whoisResult{days: int(time.Until(t).Hours() / 24)}
	}()

	select {
	case res := <-done:
		return res.days, res.err
	case <-time.After(timeout):
		return 0, fmt.Errorf("whois lookup for %s timed out", domain)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// registrableDomain naively strips subdomains; good enough for an
// advisory check.
func registrableDomain(hostname string) string {
	labels := strings.Split(hostname, ".")
	if len(labels) <= 2 {
		return hostname
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func parseWhoisDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"02-Jan-2006",
		"2006.01.02 15:04:05",
		"2006/01/02",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
