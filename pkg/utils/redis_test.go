package utils

import "testing"

func TestSessionSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if sessionAcquireScript == nil || sessionReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}
