package identity

import "testing"

func TestAuthorize_EmptyAllowListAuthorizesAll(t *testing.T) {
	if !Authorize("spiffe://t/ns/default/agent/x", nil) {
		t.Fatal("expected empty allow-list to authorize everything")
	}
}

func TestAuthorize_WildcardMatchesSameNamespace(t *testing.T) {
	allowed := []string{"spiffe://t/ns/default/*"}

	if !Authorize("spiffe://t/ns/default/agent/x", allowed) {
		t.Error("expected wildcard to match same-namespace ID")
	}
	if Authorize("spiffe://t/ns/other/agent/x", allowed) {
		t.Error("expected wildcard not to match a different namespace")
	}
}

func TestAuthorize_ExactMatch(t *testing.T) {
	allowed := []string{"spiffe://t/ns/default/agent/x"}

	if !Authorize("spiffe://t/ns/default/agent/x", allowed) {
		t.Error("expected exact match to authorize")
	}
	if Authorize("spiffe://t/ns/default/agent/y", allowed) {
		t.Error("expected non-matching ID to be rejected")
	}
}
