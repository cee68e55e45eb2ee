package services

import (
	"context"
	"testing"
)

func TestContactFindOrCreate(t *testing.T) {
	conn := testDB(t)
	svc, err := NewContactService(conn)
	if err != nil {
		t.Fatalf("NewContactService returned error: %v", err)
	}
	ctx := context.Background()

	contact, created, err := svc.FindOrCreate(ctx, "5511999999999", "Maria")
	if err != nil {
		t.Fatalf("FindOrCreate returned error: %v", err)
	}
	if !created {
		t.Error("first sight of a phone did not report creation")
	}
	if contact.Name != "Maria" {
		t.Errorf("name = %q, want Maria", contact.Name)
	}

	again, created, err := svc.FindOrCreate(ctx, "5511999999999", "Maria Silva")
	if err != nil {
		t.Fatalf("second FindOrCreate returned error: %v", err)
	}
	if created {
		t.Error("known phone reported as newly created")
	}
	if again.ID != contact.ID {
		t.Errorf("got a second contact row %d for one phone", again.ID)
	}
	// An existing name is not overwritten.
	if again.Name != "Maria" {
		t.Errorf("name = %q, want the original kept", again.Name)
	}
}

func TestContactTagLifecycle(t *testing.T) {
	conn := testDB(t)
	svc, err := NewContactService(conn)
	if err != nil {
		t.Fatalf("NewContactService returned error: %v", err)
	}
	ctx := context.Background()

	if err := svc.AddTag(ctx, "5511999999999", "vip"); err != nil {
		t.Fatalf("AddTag returned error: %v", err)
	}
	// Idempotent.
	if err := svc.AddTag(ctx, "5511999999999", "vip"); err != nil {
		t.Fatalf("second AddTag returned error: %v", err)
	}
	if err := svc.AddTag(ctx, "5511999999999", "reclamou"); err != nil {
		t.Fatalf("AddTag returned error: %v", err)
	}

	tags, err := svc.Tags(ctx, "5511999999999")
	if err != nil {
		t.Fatalf("Tags returned error: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags = %v, want exactly [vip reclamou]", tags)
	}

	if err := svc.RemoveTag(ctx, "5511999999999", "vip"); err != nil {
		t.Fatalf("RemoveTag returned error: %v", err)
	}
	tags, err = svc.Tags(ctx, "5511999999999")
	if err != nil {
		t.Fatalf("Tags returned error: %v", err)
	}
	if len(tags) != 1 || tags[0] != "reclamou" {
		t.Errorf("tags = %v, want [reclamou]", tags)
	}

	// Removing from an unknown contact is a no-op.
	if err := svc.RemoveTag(ctx, "5511000000000", "vip"); err != nil {
		t.Errorf("RemoveTag on unknown phone returned error: %v", err)
	}

	// Unknown contacts have no tags.
	tags, err = svc.Tags(ctx, "5511000000000")
	if err != nil {
		t.Fatalf("Tags returned error: %v", err)
	}
	if tags != nil {
		t.Errorf("tags = %v, want nil for an unknown phone", tags)
	}
}
