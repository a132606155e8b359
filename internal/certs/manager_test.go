package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/db"
)

type fakeAuthority struct {
	issued     *IssuedCertificate
	issueErr   error
	revokeErr  error
	issueCalls int
}

func (f *fakeAuthority) Issue(_ context.Context, hostname string) (*IssuedCertificate, error) {
	f.issueCalls++
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return f.issued, nil
}

func (f *fakeAuthority) Revoke(_ context.Context, hostname string) error {
	return f.revokeErr
}

func testBundle(t *testing.T, cn string, notAfter time.Time) (certPEM, keyPEM string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM
}

func TestClassifySSL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		e := now.Add(d)
		return &e
	}

	tests := []struct {
		name    string
		enabled bool
		expiry  *time.Time
		want    db.SSLStatus
	}{
		{"disabled", false, at(90 * 24 * time.Hour), db.SSLDisabled},
		{"no expiry recorded", true, nil, db.SSLUnknown},
		{"expired", true, at(-time.Hour), db.SSLExpired},
		{"29 days left", true, at(29 * 24 * time.Hour), db.SSLExpiringSoon},
		{"exactly 30 days left", true, at(30 * 24 * time.Hour), db.SSLExpiringSoon},
		{"31 days left", true, at(31 * 24 * time.Hour), db.SSLActive},
		{"90 days left", true, at(90 * 24 * time.Hour), db.SSLActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySSL(tt.enabled, tt.expiry, now); got != tt.want {
				t.Errorf("ClassifySSL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if got := DaysUntilExpiry(nil, now); got != 0 {
		t.Errorf("DaysUntilExpiry(nil) = %d, want 0", got)
	}

	e := now.Add(45 * 24 * time.Hour)
	if got := DaysUntilExpiry(&e, now); got != 45 {
		t.Errorf("DaysUntilExpiry = %d, want 45", got)
	}

	past := now.Add(-48 * time.Hour)
	if got := DaysUntilExpiry(&past, now); got != -2 {
		t.Errorf("DaysUntilExpiry(past) = %d, want -2", got)
	}
}

func TestRequestCertificateManaged(t *testing.T) {
	now := time.Now()

	t.Run("success", func(t *testing.T) {
		auth := &fakeAuthority{issued: &IssuedCertificate{
			CertificateID: "cert-1",
			Issuer:        "Let's Encrypt",
			Expiry:        now.Add(90 * 24 * time.Hour),
		}}
		m := NewManager(auth, zap.NewNop())

		issued, err := m.RequestCertificate(context.Background(), &db.DomainMapping{
			Hostname:        "shop.acme.com",
			CertificateType: db.CertManaged,
		})
		if err != nil {
			t.Fatal(err)
		}
		if issued.CertificateID != "cert-1" {
			t.Errorf("CertificateID = %q, want cert-1", issued.CertificateID)
		}
	})

	t.Run("authority failure", func(t *testing.T) {
		auth := &fakeAuthority{issueErr: errors.New("rate limited")}
		m := NewManager(auth, zap.NewNop())

		_, err := m.RequestCertificate(context.Background(), &db.DomainMapping{
			Hostname:        "shop.acme.com",
			CertificateType: db.CertManaged,
		})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("pre-expired certificate rejected", func(t *testing.T) {
		auth := &fakeAuthority{issued: &IssuedCertificate{
			CertificateID: "cert-stale",
			Expiry:        now.Add(-time.Minute),
		}}
		m := NewManager(auth, zap.NewNop())

		_, err := m.RequestCertificate(context.Background(), &db.DomainMapping{
			Hostname:        "shop.acme.com",
			CertificateType: db.CertManaged,
		})
		if err == nil {
			t.Fatal("a fresh certificate must never be expired on arrival")
		}
	})
}

func TestRequestCertificateCustom(t *testing.T) {
	certPEM, keyPEM := testBundle(t, "shop.acme.com", time.Now().Add(180*24*time.Hour))
	m := NewManager(&fakeAuthority{}, zap.NewNop())

	issued, err := m.RequestCertificate(context.Background(), &db.DomainMapping{
		Hostname:        "shop.acme.com",
		CertificateType: db.CertCustom,
		CustomCertPEM:   certPEM,
		CustomKeyPEM:    keyPEM,
	})
	if err != nil {
		t.Fatal(err)
	}
	if issued.CertificateID == "" {
		t.Error("expected a generated certificate ID")
	}
}

func TestRenewCertificateGuards(t *testing.T) {
	auth := &fakeAuthority{issued: &IssuedCertificate{
		CertificateID: "cert-2",
		Expiry:        time.Now().Add(90 * 24 * time.Hour),
	}}
	m := NewManager(auth, zap.NewNop())

	_, err := m.RenewCertificate(context.Background(), &db.DomainMapping{
		Status:          db.StatusPendingVerification,
		CertificateType: db.CertManaged,
	})
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("renewing a non-active mapping: err = %v, want ErrNotActive", err)
	}

	_, err = m.RenewCertificate(context.Background(), &db.DomainMapping{
		Status:          db.StatusActive,
		CertificateType: db.CertCustom,
	})
	if !errors.Is(err, ErrCustomRenewal) {
		t.Errorf("renewing a custom certificate: err = %v, want ErrCustomRenewal", err)
	}

	issued, err := m.RenewCertificate(context.Background(), &db.DomainMapping{
		Status:          db.StatusActive,
		CertificateType: db.CertManaged,
		Hostname:        "shop.acme.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if issued.CertificateID != "cert-2" {
		t.Errorf("CertificateID = %q, want cert-2", issued.CertificateID)
	}
}

func TestValidateCustomBundle(t *testing.T) {
	certPEM, keyPEM := testBundle(t, "shop.acme.com", time.Now().Add(180*24*time.Hour))
	expiredPEM, expiredKey := testBundle(t, "old.acme.com", time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		cert    string
		key     string
		chain   string
		wantErr string
	}{
		{"valid bundle", certPEM, keyPEM, "", ""},
		{"valid with chain", certPEM, keyPEM, certPEM, ""},
		{"missing certificate", "", keyPEM, "", "certificate is required"},
		{"missing key", certPEM, "", "", "private key is required"},
		{"garbage certificate", "not pem at all", keyPEM, "", "not valid PEM"},
		{"garbage key", certPEM, "not pem at all", "", "not valid PEM"},
		{"expired certificate", expiredPEM, expiredKey, "", "expired"},
		{"garbage chain", certPEM, keyPEM, "junk", "chain is not valid PEM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ValidateCustomBundle(tt.cert, tt.key, tt.chain)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if info.Subject != "shop.acme.com" {
					t.Errorf("Subject = %q, want shop.acme.com", info.Subject)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRevokeCertificateBestEffort(t *testing.T) {
	auth := &fakeAuthority{revokeErr: errors.New("CA unavailable")}
	m := NewManager(auth, zap.NewNop())

	if err := m.RevokeCertificate(context.Background(), "shop.acme.com"); err == nil {
		t.Error("expected the revocation error to surface for the caller to log")
	}

	auth.revokeErr = nil
	if err := m.RevokeCertificate(context.Background(), "shop.acme.com"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
