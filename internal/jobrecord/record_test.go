package jobrecord

import "testing"

func TestLastFollowOn(t *testing.T) {
	r := &Record{FollowOns: []FollowOn{{Command: "a"}, {Command: "b"}}}
	if got := r.LastFollowOn().Command; got != "b" {
		t.Fatalf("LastFollowOn() = %q, want %q", got, "b")
	}
}

func TestCloneDeepCopiesSlices(t *testing.T) {
	r := &Record{
		Children:  []ChildDescriptor{{Command: "child"}},
		FollowOns: []FollowOn{{Command: "root"}},
	}
	c := r.Clone()

	c.Children[0].Command = "mutated"
	c.FollowOns[0].Command = "mutated"

	if r.Children[0].Command != "child" {
		t.Fatalf("Clone aliased Children: original mutated to %q", r.Children[0].Command)
	}
	if r.FollowOns[0].Command != "root" {
		t.Fatalf("Clone aliased FollowOns: original mutated to %q", r.FollowOns[0].Command)
	}
}
