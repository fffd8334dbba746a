package models

import (
	"testing"
	"time"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"user", func() *BaseModel {
			u := &User{}
			return &u.BaseModel
		}},
		{"invitation", func() *BaseModel {
			i := &Invitation{}
			return &i.BaseModel
		}},
		{"delivery_log", func() *BaseModel {
			d := &DeliveryLog{}
			return &d.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			if err := model.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if model.ID == "" {
				t.Fatal("expected ID to be generated")
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ada@Example.COM "); got != "ada@example.com" {
		t.Fatalf("unexpected normalised email: %q", got)
	}
}

func TestValidRole(t *testing.T) {
	if !ValidRole(RoleAdmin) || !ValidRole(RoleUser) {
		t.Fatal("expected admin and user to be valid roles")
	}
	if ValidRole("owner") || ValidRole("") {
		t.Fatal("expected unknown roles to be rejected")
	}
}

func TestInvitationActive(t *testing.T) {
	now := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	inv := Invitation{ExpiresAt: now.Add(time.Hour)}
	if !inv.Active(now) {
		t.Fatal("expected unexpired unaccepted invitation to be active")
	}

	inv.IsAccepted = true
	if inv.Active(now) {
		t.Fatal("expected accepted invitation to be inactive")
	}

	inv.IsAccepted = false
	inv.ExpiresAt = now.Add(-time.Minute)
	if inv.Active(now) {
		t.Fatal("expected expired invitation to be inactive")
	}
}
