package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	client := redis.NewClient(opt)

	return &Client{client}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

// Routing cache: hostname -> tenant resolution for the edge. Invalidated
// whenever a mapping changes state or is removed.

type RoutingEntry struct {
	MappingID  string `json:"mapping_id"`
	TenantID   string `json:"tenant_id"`
	ForceHTTPS bool   `json:"force_https"`
}

func routingKey(hostname string) string {
	return fmt.Sprintf("routing:hostname:%s", hostname)
}

func (c *Client) CacheRouting(ctx context.Context, hostname string, entry *RoutingEntry) error {
	return c.SetJSON(ctx, routingKey(hostname), entry, 5*time.Minute)
}

func (c *Client) GetCachedRouting(ctx context.Context, hostname string) (*RoutingEntry, error) {
	var entry RoutingEntry
	if err := c.GetJSON(ctx, routingKey(hostname), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) InvalidateRouting(ctx context.Context, hostname string) error {
	return c.Del(ctx, routingKey(hostname)).Err()
}

// HTTP-01 challenge material, served by the edge at
// /.well-known/acme-challenge/<token> during certificate issuance.

func challengeKey(domain, token string) string {
	return fmt.Sprintf("acme:challenge:%s:%s", domain, token)
}

func (c *Client) PutChallenge(ctx context.Context, domain, token, keyAuth string) error {
	return c.Set(ctx, challengeKey(domain, token), keyAuth, 10*time.Minute).Err()
}

func (c *Client) DeleteChallenge(ctx context.Context, domain, token string) error {
	return c.Del(ctx, challengeKey(domain, token)).Err()
}

// Issued certificate material for edge TLS termination.

type storedCertificate struct {
	CertPEM string `json:"cert_pem"`
	KeyPEM  string `json:"key_pem"`
}

func certificateKey(hostname string) string {
	return fmt.Sprintf("certs:hostname:%s", hostname)
}

func (c *Client) SaveCertificate(ctx context.Context, hostname, certPEM, keyPEM string) error {
	return c.SetJSON(ctx, certificateKey(hostname), &storedCertificate{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}, 0)
}

func (c *Client) GetCertificate(ctx context.Context, hostname string) (string, string, error) {
	var stored storedCertificate
	if err := c.GetJSON(ctx, certificateKey(hostname), &stored); err != nil {
		return "", "", err
	}
	return stored.CertPEM, stored.KeyPEM, nil
}

func (c *Client) DeleteCertificate(ctx context.Context, hostname string) error {
	return c.Del(ctx, certificateKey(hostname)).Err()
}
