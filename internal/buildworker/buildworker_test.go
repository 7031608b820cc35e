package buildworker

import (
	"context"
	"testing"
)

func TestMockWorkerExecuteSucceeds(t *testing.T) {
	w := NewMockWorker()
	res, err := w.Execute(context.Background(), Task{ID: "t1", Instruction: "do it"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected simulated execute to succeed")
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Type != ArtifactLog {
		t.Fatalf("Artifacts = %+v, want one log artifact", res.Artifacts)
	}
	if res.CostUsd != 0 {
		t.Fatalf("CostUsd = %v, want 0", res.CostUsd)
	}
}

func TestMockWorkerCheckApproves(t *testing.T) {
	w := NewMockWorker()
	res, err := w.Check(context.Background(), Task{ID: "t1"}, BuildSummary{Output: "built"})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !res.Approved {
		t.Fatal("expected simulated check to approve")
	}
	if res.CostUsd != 0 {
		t.Fatalf("CostUsd = %v, want 0", res.CostUsd)
	}
}

func TestSummarizeArtifactsEmpty(t *testing.T) {
	if got := summarizeArtifacts(nil); got != "no artifacts produced" {
		t.Fatalf("summarizeArtifacts(nil) = %q", got)
	}
}

func TestSummarizeArtifactsJoinsEntries(t *testing.T) {
	got := summarizeArtifacts([]Artifact{{Type: ArtifactBranch, Ref: "feat/x"}, {Type: ArtifactPR, Ref: "42"}})
	want := "branch:feat/x pr:42 "
	if got != want {
		t.Fatalf("summarizeArtifacts() = %q, want %q", got, want)
	}
}
