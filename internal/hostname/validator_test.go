package hostname

import (
	"context"
	"strings"
	"testing"

	"github.com/craftlink/domain-warden/internal/db"
)

type fakeLookup struct {
	mappings map[string]*db.DomainMapping
}

func (f *fakeLookup) GetMappingByHostname(_ context.Context, hostname string) (*db.DomainMapping, error) {
	if m, ok := f.mappings[hostname]; ok {
		return m, nil
	}
	return nil, db.ErrNotFound
}

type fakeCNAME struct {
	targets map[string]string
}

func (f *fakeCNAME) LookupCNAME(_ context.Context, hostname string) (string, error) {
	return f.targets[hostname], nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Shop.Example.IO", "shop.example.io"},
		{"  shop.acme.dev  ", "shop.acme.dev"},
		{"shop.acme.dev.", "shop.acme.dev"},
		{"SHOP.ACME.DEV.", "shop.acme.dev"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateFormat(t *testing.T) {
	v := NewValidator(&fakeLookup{}, nil, "edge.craftlink.net", nil)

	tests := []struct {
		name  string
		host  string
		valid bool
	}{
		{"valid subdomain", "shop.yourbrand.com", true},
		{"valid deep subdomain", "www.shop.yourbrand.com", true},
		{"with scheme", "https://shop.yourbrand.com", false},
		{"with path", "shop.yourbrand.com/checkout", false},
		{"with query", "shop.yourbrand.com?x=1", false},
		{"single label", "localhost2", false},
		{"empty", "", false},
		{"leading hyphen label", "-shop.yourbrand.com", false},
		{"trailing hyphen label", "shop-.yourbrand.com", false},
		{"underscore label", "my_shop.yourbrand.com", false},
		{"too long", strings.Repeat("a", 63) + "." + strings.Repeat("b", 63) + "." + strings.Repeat("c", 63) + "." + strings.Repeat("d", 63) + ".com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(context.Background(), tt.host, "tenant-1")
			if err != nil {
				t.Fatalf("Validate(%q) returned error: %v", tt.host, err)
			}
			if got.Valid != tt.valid {
				t.Errorf("Validate(%q).Valid = %v, want %v (issues: %v)", tt.host, got.Valid, tt.valid, got.Issues)
			}
			if !got.Valid && len(got.Issues) == 0 {
				t.Errorf("Validate(%q) invalid but no issues reported", tt.host)
			}
		})
	}
}

func TestValidateReserved(t *testing.T) {
	v := NewValidator(&fakeLookup{}, nil, "edge.craftlink.net", []string{"craftlink.net"})

	for _, host := range []string{"shop.example.com", "foo.localhost", "api.craftlink.net"} {
		got, err := v.Validate(context.Background(), host, "tenant-1")
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", host, err)
		}
		if got.Valid {
			t.Errorf("Validate(%q).Valid = true, want false for reserved domain", host)
		}
	}
}

func TestValidateCollision(t *testing.T) {
	lookup := &fakeLookup{mappings: map[string]*db.DomainMapping{
		"shop.taken.com": {TenantID: "tenant-2", Hostname: "shop.taken.com", Status: db.StatusActive},
		"shop.mine.com":  {TenantID: "tenant-1", Hostname: "shop.mine.com", Status: db.StatusPendingVerification},
	}}
	v := NewValidator(lookup, nil, "edge.craftlink.net", nil)

	t.Run("other tenant owns hostname", func(t *testing.T) {
		got, err := v.Validate(context.Background(), "shop.taken.com", "tenant-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Valid {
			t.Error("expected collision with another tenant to be invalid")
		}
		if !got.Conflict {
			t.Error("cross-tenant collision must be marked as a conflict")
		}
		if len(got.Suggestions) == 0 {
			t.Error("expected a suggestion on cross-tenant collision")
		}
	})

	t.Run("duplicate in own account", func(t *testing.T) {
		got, err := v.Validate(context.Background(), "shop.mine.com", "tenant-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Valid {
			t.Error("expected duplicate within the same account to be invalid")
		}
		if !got.Conflict {
			t.Error("same-tenant duplicate must be marked as a conflict")
		}
	})

	t.Run("free hostname", func(t *testing.T) {
		got, err := v.Validate(context.Background(), "shop.free.com", "tenant-1")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Valid {
			t.Errorf("expected free hostname to be valid, issues: %v", got.Issues)
		}
		if got.Conflict {
			t.Error("a free hostname must not be marked as a conflict")
		}
	})
}

func TestValidateAdvisoryCNAME(t *testing.T) {
	cname := &fakeCNAME{targets: map[string]string{
		"shop.elsewhere.com": "other-platform.example.net",
		"shop.correct.com":   "edge.craftlink.net",
	}}
	v := NewValidator(&fakeLookup{}, cname, "edge.craftlink.net", nil)

	got, err := v.Validate(context.Background(), "shop.elsewhere.com", "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Valid {
		t.Errorf("advisory CNAME mismatch must not invalidate, issues: %v", got.Issues)
	}
	if len(got.Suggestions) == 0 {
		t.Error("expected an advisory suggestion for a CNAME pointing elsewhere")
	}

	got, err = v.Validate(context.Background(), "shop.correct.com", "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Suggestions) != 0 {
		t.Errorf("unexpected suggestions for a correctly pointed CNAME: %v", got.Suggestions)
	}
}
