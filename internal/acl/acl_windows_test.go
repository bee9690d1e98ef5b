//go:build windows

package acl

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/windows"
)

func everyoneACEs(t *testing.T, path string, aceType byte) int {
	t.Helper()
	sid, current, err := readDACL(path)
	if err != nil {
		t.Fatalf("readDACL failed: %v", err)
	}
	_, n := filterACEs(aclBytes(current), func(typ, flags byte, s *windows.SID) bool {
		return typ == aceType && flags&inheritedAce == 0 && s.Equals(sid)
	})
	return n
}

func TestDACLKeepsExistingEveryoneAllow(t *testing.T) {
	file := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(file, []byte("x"), 0640); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	sid, current, err := readDACL(file)
	if err != nil {
		t.Fatalf("readDACL failed: %v", err)
	}
	grant := windows.EXPLICIT_ACCESS{
		AccessPermissions: windows.GENERIC_READ,
		AccessMode:        windows.GRANT_ACCESS,
		Inheritance:       windows.NO_INHERITANCE,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_WELL_KNOWN_GROUP,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		},
	}
	withGrant, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{grant}, current)
	if err != nil {
		t.Fatalf("ACLFromEntries failed: %v", err)
	}
	if err := writeDACL(file, withGrant); err != nil {
		t.Fatalf("writeDACL failed: %v", err)
	}

	p := New()
	if err := p.Deny(file); err != nil {
		t.Fatalf("Deny failed: %v", err)
	}
	if denied, err := p.Denied(file); err != nil || !denied {
		t.Errorf("Denied after deny: got %v, %v", denied, err)
	}

	if err := p.Allow(file, 0640); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if denied, err := p.Denied(file); err != nil || denied {
		t.Errorf("Denied after allow: got %v, %v", denied, err)
	}
	if n := everyoneACEs(t, file, 0); n != 1 {
		t.Errorf("Everyone allow entries after unlock: got %d, want 1", n)
	}
	if _, err := os.ReadFile(file); err != nil {
		t.Errorf("File should be readable after allow: %v", err)
	}
}
