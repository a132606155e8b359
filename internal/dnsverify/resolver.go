package dnsverify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers CNAME and TXT queries. The production implementation
// talks to a real nameserver; tests substitute a fake.
type Resolver interface {
	LookupCNAME(ctx context.Context, hostname string) (string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Client resolves against a single configured nameserver with a bounded
// timeout per query.
type Client struct {
	nameserver string
	timeout    time.Duration
}

func NewClient(nameserver string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{nameserver: nameserver, timeout: timeout}
}

func (c *Client) LookupCNAME(ctx context.Context, hostname string) (string, error) {
	answers, err := c.query(ctx, hostname, dns.TypeCNAME)
	if err != nil {
		return "", err
	}
	if len(answers) == 0 {
		return "", nil
	}
	return strings.TrimSuffix(answers[0], "."), nil
}

func (c *Client) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return c.query(ctx, name, dns.TypeTXT)
}

func (c *Client) query(ctx context.Context, name string, qtype uint16) ([]string, error) {
	client := new(dns.Client)
	client.Timeout = c.timeout

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)

	r, _, err := client.ExchangeContext(ctx, m, c.nameserver)
	if err != nil {
		return nil, fmt.Errorf("dns query failed: %w", err)
	}

	if r.Rcode == dns.RcodeNameError {
		return nil, nil // NXDOMAIN: no records, not a transport failure
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query failed with code %s", dns.RcodeToString[r.Rcode])
	}

	var answers []string
	for _, ans := range r.Answer {
		switch rr := ans.(type) {
		case *dns.CNAME:
			answers = append(answers, rr.Target)
		case *dns.TXT:
			// A single TXT answer may be split across chunks; callers
			// compare against the joined value.
			answers = append(answers, strings.Join(rr.Txt, ""))
		}
	}

	return answers, nil
}
