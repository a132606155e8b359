package dnsverify

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeResolver struct {
	cname    map[string]string
	txt      map[string][]string
	cnameErr error
	txtErr   error
}

func (f *fakeResolver) LookupCNAME(_ context.Context, hostname string) (string, error) {
	if f.cnameErr != nil {
		return "", f.cnameErr
	}
	return f.cname[hostname], nil
}

func (f *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if f.txtErr != nil {
		return nil, f.txtErr
	}
	return f.txt[name], nil
}

func newTestVerifier(r Resolver) *Verifier {
	return NewVerifier(r, "edge.craftlink.net", "_acme-challenge", 300*time.Second, zap.NewNop())
}

func TestVerifyOwnershipSuccess(t *testing.T) {
	r := &fakeResolver{
		cname: map[string]string{"shop.acme.com": "edge.craftlink.net."},
		txt:   map[string][]string{"_acme-challenge.shop.acme.com": {"other", "dw-verify-abc"}},
	}
	v := newTestVerifier(r)

	got := v.VerifyOwnership(context.Background(), "shop.acme.com", "dw-verify-abc")
	if !got.Success {
		t.Fatalf("expected success, errors: %v", got.Errors)
	}
	if !got.CNAMEOk || !got.TokenOk {
		t.Errorf("CNAMEOk = %v, TokenOk = %v, want both true", got.CNAMEOk, got.TokenOk)
	}
	if got.RetryAfterSeconds != 0 {
		t.Errorf("RetryAfterSeconds = %d, want 0 on success", got.RetryAfterSeconds)
	}
}

func TestVerifyOwnershipTransient(t *testing.T) {
	tests := []struct {
		name     string
		resolver *fakeResolver
	}{
		{
			"cname lookup fails",
			&fakeResolver{cnameErr: errors.New("i/o timeout")},
		},
		{
			"cname missing",
			&fakeResolver{txt: map[string][]string{"_acme-challenge.shop.acme.com": {"dw-verify-abc"}}},
		},
		{
			"cname points elsewhere",
			&fakeResolver{
				cname: map[string]string{"shop.acme.com": "other.example.net"},
				txt:   map[string][]string{"_acme-challenge.shop.acme.com": {"dw-verify-abc"}},
			},
		},
		{
			"txt lookup fails",
			&fakeResolver{
				cname:  map[string]string{"shop.acme.com": "edge.craftlink.net"},
				txtErr: errors.New("servfail"),
			},
		},
		{
			"token not present",
			&fakeResolver{
				cname: map[string]string{"shop.acme.com": "edge.craftlink.net"},
				txt:   map[string][]string{"_acme-challenge.shop.acme.com": {"something-else"}},
			},
		},
		{
			"token substring does not match",
			&fakeResolver{
				cname: map[string]string{"shop.acme.com": "edge.craftlink.net"},
				txt:   map[string][]string{"_acme-challenge.shop.acme.com": {"dw-verify-abcdef"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(tt.resolver)
			got := v.VerifyOwnership(context.Background(), "shop.acme.com", "dw-verify-abc")
			if got.Success {
				t.Fatal("expected failure")
			}
			if got.RetryAfterSeconds != 300 {
				t.Errorf("RetryAfterSeconds = %d, want 300", got.RetryAfterSeconds)
			}
			if len(got.Errors) == 0 {
				t.Error("expected actionable error messages")
			}
		})
	}
}

func TestVerifyOwnershipNoToken(t *testing.T) {
	r := &fakeResolver{
		cname: map[string]string{"shop.acme.com": "edge.craftlink.net"},
		txt:   map[string][]string{},
	}
	v := newTestVerifier(r)

	got := v.VerifyOwnership(context.Background(), "shop.acme.com", "")
	if got.Success {
		t.Fatal("expected failure without an outstanding token")
	}
	if got.RetryAfterSeconds != 0 {
		t.Errorf("RetryAfterSeconds = %d, want 0: retrying cannot help without a token", got.RetryAfterSeconds)
	}
}

func TestChallengeName(t *testing.T) {
	v := newTestVerifier(&fakeResolver{})
	if got, want := v.ChallengeName("shop.acme.com"), "_acme-challenge.shop.acme.com"; got != want {
		t.Errorf("ChallengeName = %q, want %q", got, want)
	}
}

func TestCheckCNAME(t *testing.T) {
	r := &fakeResolver{cname: map[string]string{
		"good.acme.com": "EDGE.craftlink.net.",
		"bad.acme.com":  "other.example.net",
	}}
	v := newTestVerifier(r)

	ok, target, err := v.CheckCNAME(context.Background(), "good.acme.com")
	if err != nil || !ok {
		t.Errorf("CheckCNAME(good) = %v, %q, %v; want match", ok, target, err)
	}

	ok, target, err = v.CheckCNAME(context.Background(), "bad.acme.com")
	if err != nil || ok {
		t.Errorf("CheckCNAME(bad) = %v, %q, %v; want mismatch", ok, target, err)
	}
	if target != "other.example.net" {
		t.Errorf("target = %q, want the observed CNAME", target)
	}
}
