package certs

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"go.uber.org/zap"
)

// ChallengeStore publishes HTTP-01 key authorizations so the edge can
// answer /.well-known/acme-challenge requests for tenant hostnames.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, domain, token, keyAuth string) error
	DeleteChallenge(ctx context.Context, domain, token string) error
}

// CertificateStore holds issued certificate material for the edge to
// terminate TLS with, and for later revocation.
type CertificateStore interface {
	SaveCertificate(ctx context.Context, hostname, certPEM, keyPEM string) error
	GetCertificate(ctx context.Context, hostname string) (certPEM, keyPEM string, err error)
	DeleteCertificate(ctx context.Context, hostname string) error
}

// acmeUser satisfies lego's registration.User.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// LegoAuthority implements Authority against an ACME directory using
// go-acme/lego with HTTP-01 challenges served through the edge cache.
type LegoAuthority struct {
	client  *lego.Client
	certs   CertificateStore
	timeout time.Duration
	logger  *zap.Logger
}

func NewLegoAuthority(directoryURL, email string, challenges ChallengeStore, certs CertificateStore, timeout time.Duration, logger *zap.Logger) (*LegoAuthority, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}

	user := &acmeUser{email: email, key: privateKey}

	config := lego.NewConfig(user)
	config.CADirURL = directoryURL
	config.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME client: %w", err)
	}

	provider := &edgeChallengeProvider{store: challenges}
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("failed to set HTTP-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("failed to register ACME account: %w", err)
	}
	user.registration = reg

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &LegoAuthority{
		client:  client,
		certs:   certs,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (a *LegoAuthority) Issue(ctx context.Context, hostname string) (*IssuedCertificate, error) {
	request := certificate.ObtainRequest{
		Domains: []string{hostname},
		Bundle:  true,
	}

	// lego drives the full order internally; the timeout bounds the
	// whole exchange including challenge validation.
	done := make(chan struct{})
	var res *certificate.Resource
	var obtainErr error
	go func() {
		res, obtainErr = a.client.Certificate.Obtain(request)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(a.timeout):
		return nil, fmt.Errorf("ACME order for %s timed out after %s", hostname, a.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if obtainErr != nil {
		return nil, fmt.Errorf("failed to obtain certificate: %w", obtainErr)
	}

	block, _ := pem.Decode(res.Certificate)
	if block == nil {
		return nil, errors.New("failed to decode issued certificate PEM")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued certificate: %w", err)
	}

	if err := a.certs.SaveCertificate(ctx, hostname, string(res.Certificate), string(res.PrivateKey)); err != nil {
		return nil, fmt.Errorf("failed to store certificate for %s: %w", hostname, err)
	}

	a.logger.Info("Certificate issued",
		zap.String("hostname", hostname),
		zap.String("issuer", leaf.Issuer.CommonName),
		zap.Time("expiry", leaf.NotAfter),
	)

	return &IssuedCertificate{
		CertificateID: res.CertURL,
		Issuer:        leaf.Issuer.CommonName,
		Expiry:        leaf.NotAfter,
	}, nil
}

func (a *LegoAuthority) Revoke(ctx context.Context, hostname string) error {
	certPEM, _, err := a.certs.GetCertificate(ctx, hostname)
	if err != nil {
		return fmt.Errorf("no stored certificate for %s: %w", hostname, err)
	}

	if err := a.client.Certificate.Revoke([]byte(certPEM)); err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}

	if err := a.certs.DeleteCertificate(ctx, hostname); err != nil {
		a.logger.Warn("Failed to remove revoked certificate from store",
			zap.String("hostname", hostname),
			zap.Error(err),
		)
	}

	return nil
}

// edgeChallengeProvider satisfies challenge.Provider by publishing the key
// authorization where the edge serves it.
type edgeChallengeProvider struct {
	store ChallengeStore
}

func (p *edgeChallengeProvider) Present(domain, token, keyAuth string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.store.PutChallenge(ctx, domain, token, keyAuth)
}

func (p *edgeChallengeProvider) CleanUp(domain, token, _ string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.store.DeleteChallenge(ctx, domain, token)
}
