//go:build windows

package acl

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	aclHeaderSize       = 8
	aceHeaderSize       = 4
	accessDeniedAceType = 1
	inheritedAce        = 0x10
)

// DACL denies access with an explicit DENY entry for Everyone, which takes
// precedence over any inherited or explicit ALLOW. Allow removes only that
// explicit DENY entry; every other entry, Everyone ALLOW entries included,
// is kept as it was.
type DACL struct{}

// New returns the platform Permissioner.
func New() Permissioner { return DACL{} }

func everyone() (*windows.SID, error) {
	return windows.CreateWellKnownSid(windows.WinWorldSid)
}

func (DACL) Deny(path string) error {
	sid, current, err := readDACL(path)
	if err != nil {
		return err
	}

	entry := windows.EXPLICIT_ACCESS{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.DENY_ACCESS,
		Inheritance:       windows.NO_INHERITANCE,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_WELL_KNOWN_GROUP,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		},
	}
	updated, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{entry}, current)
	if err != nil {
		return fmt.Errorf("build ACL for %s: %w", path, err)
	}
	return writeDACL(path, updated)
}

func (DACL) Allow(path string, _ fs.FileMode) error {
	sid, current, err := readDACL(path)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	raw := aclBytes(current)
	kept, dropped := filterACEs(raw, func(aceType, flags byte, aceSID *windows.SID) bool {
		return aceType == accessDeniedAceType && flags&inheritedAce == 0 && aceSID.Equals(sid)
	})
	if dropped == 0 {
		return nil
	}
	err = writeDACL(path, (*windows.ACL)(unsafe.Pointer(&kept[0])))
	runtime.KeepAlive(kept)
	return err
}

func (DACL) Denied(path string) (bool, error) {
	sid, current, err := readDACL(path)
	if err != nil || current == nil {
		return false, err
	}
	_, found := filterACEs(aclBytes(current), func(aceType, flags byte, aceSID *windows.SID) bool {
		return aceType == accessDeniedAceType && flags&inheritedAce == 0 && aceSID.Equals(sid)
	})
	return found > 0, nil
}

func readDACL(path string) (*windows.SID, *windows.ACL, error) {
	sid, err := everyone()
	if err != nil {
		return nil, nil, fmt.Errorf("lookup Everyone SID: %w", err)
	}
	sd, err := windows.GetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return nil, nil, fmt.Errorf("read ACL of %s: %w", path, err)
	}
	current, _, err := sd.DACL()
	if err != nil {
		return nil, nil, fmt.Errorf("read ACL of %s: %w", path, err)
	}
	return sid, current, nil
}

func writeDACL(path string, acl *windows.ACL) error {
	err := windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION, nil, nil, acl, nil)
	if err != nil {
		return fmt.Errorf("write ACL of %s: %w", path, err)
	}
	return nil
}

// aclBytes views an ACL as its raw bytes. The size is read from the header.
func aclBytes(acl *windows.ACL) []byte {
	header := unsafe.Slice((*byte)(unsafe.Pointer(acl)), aclHeaderSize)
	size := binary.LittleEndian.Uint16(header[2:4])
	return unsafe.Slice((*byte)(unsafe.Pointer(acl)), size)
}

// filterACEs copies raw without the ACEs drop matches and returns the copy
// with the number of ACEs dropped. Only ACCESS_ALLOWED/DENIED layouts
// (SID at offset 8) are offered to drop; other ACEs are always kept.
func filterACEs(raw []byte, drop func(aceType, flags byte, sid *windows.SID) bool) ([]byte, int) {
	count := int(binary.LittleEndian.Uint16(raw[4:6]))

	out := make([]byte, aclHeaderSize, len(raw))
	copy(out, raw[:aclHeaderSize])

	kept, dropped := 0, 0
	off := aclHeaderSize
	for i := 0; i < count && off+aceHeaderSize <= len(raw); i++ {
		aceType, flags := raw[off], raw[off+1]
		size := int(binary.LittleEndian.Uint16(raw[off+2 : off+4]))
		if size < aceHeaderSize || off+size > len(raw) {
			break
		}
		ace := raw[off : off+size]
		off += size

		if aceType <= accessDeniedAceType && size >= 8+8 {
			sid := (*windows.SID)(unsafe.Pointer(&ace[8]))
			if drop(aceType, flags, sid) {
				dropped++
				continue
			}
		}
		out = append(out, ace...)
		kept++
	}

	binary.LittleEndian.PutUint16(out[2:4], uint16(len(out)))
	binary.LittleEndian.PutUint16(out[4:6], uint16(kept))
	return out, dropped
}
