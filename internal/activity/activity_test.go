package activity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []*Activity{
		{Type: "Follow", Actor: "a", Object: "b"},
		{Id: "x", Actor: "a", Object: "b"},
		{Id: "x", Type: "Follow", Object: "b"},
		{Id: "x", Type: "Follow", Actor: "a"},
	}
	for i, a := range cases {
		if err := Validate(a); err == nil {
			t.Errorf("case %d: expected validation error, got nil", i)
		}
	}
}

func TestNewFollowRoundTrip(t *testing.T) {
	f := NewFollow("https://local.test/activities/1", "https://local.test/user/alice", "https://remote.test/users/bob")
	if err := Validate(f); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]interface{}
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["type"] != "Follow" || back["object"] != "https://remote.test/users/bob" {
		t.Errorf("unexpected round trip: %v", back)
	}
}

func TestNewAcceptEmbedsFollow(t *testing.T) {
	a := NewAccept("https://local.test/activities/2", "https://local.test/user/alice",
		"https://remote.test/activities/1", "https://remote.test/users/bob", "https://local.test/user/alice")
	embedded, ok := a.Object.(*Activity)
	if !ok {
		t.Fatalf("expected embedded *Activity, got %T", a.Object)
	}
	if embedded.Type != "Follow" || embedded.Actor != "https://remote.test/users/bob" {
		t.Errorf("unexpected embedded follow: %+v", embedded)
	}
}

func TestNewDeleteWrapsTombstone(t *testing.T) {
	d := NewDelete("https://local.test/activities/3", "https://local.test/user/alice", "https://local.test/note/1")
	obj, ok := d.Object.(*Object)
	if !ok || obj.Type != "Tombstone" {
		t.Fatalf("expected Tombstone object, got %+v", d.Object)
	}
}

func TestFromNoteCarriesContentAndAddressing(t *testing.T) {
	content := "hello federation"
	now := time.Now()
	n := &domain.Note{
		Id:        id.New(),
		Content:   &content,
		CreatedAt: now,
		ViewURL:   "https://local.test/note/" + id.New().String(),
	}
	author := &domain.Actor{ViewURL: "https://local.test/user/alice"}
	obj := FromNote(n, author, []string{PublicURI}, []string{"https://local.test/user/alice/followers"})

	if obj.Content != content {
		t.Errorf("content = %q, want %q", obj.Content, content)
	}
	if obj.AttributedTo != author.ViewURL {
		t.Errorf("attributedTo = %q, want %q", obj.AttributedTo, author.ViewURL)
	}
	if len(obj.To) != 1 || obj.To[0] != PublicURI {
		t.Errorf("unexpected to: %v", obj.To)
	}
}

func TestOrderedCollectionPageShape(t *testing.T) {
	page := NewOrderedCollectionPage("https://local.test/user/alice/outbox?page=2", "https://local.test/user/alice/outbox",
		[]interface{}{"item1", "item2"}, "")
	raw, err := json.Marshal(page)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]interface{}
	_ = json.Unmarshal(raw, &back)
	if back["type"] != "OrderedCollectionPage" {
		t.Errorf("unexpected type: %v", back["type"])
	}
	if _, hasNext := back["next"]; hasNext {
		t.Error("expected omitempty next to be absent when empty")
	}
}
