// Package identity resolves a disk config entry to a concrete
// /sys/class/block/<kname> path, in priority order: serial, wwn, path,
// multipath (member/WWID), iSCSI URI, nvme_controller reference.
//
// Many candidate identifiers may be present on one entry; the first that
// resolves in the order above is authoritative. Only a declared path is
// cross-checked, and only when serial resolved the device: a mismatch
// produces a warning and serial wins.
package identity

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/storageconfig"
)

// Located is the outcome of resolving a disk entry.
type Located struct {
	KName    string
	Path     string
	MatchedBy string // which identifier resolved it: serial, wwn, path, multipath, iscsi, nvme_controller
	Warnings []string
}

// ErrNotFound is returned when no device in the snapshot matches any
// configured identifier.
var ErrNotFound = fmt.Errorf("device not located")

// Resolve locates e within snap using the identifier priority order.
func Resolve(e *storageconfig.Entry, snap *probe.Snapshot) (*Located, error) {
	if e.Serial != "" {
		if dev := findBySerial(snap, e.Serial); dev != nil {
			loc := &Located{KName: dev.KName, Path: dev.Path, MatchedBy: "serial"}
			if e.Path != "" && e.Path != dev.Path {
				loc.Warnings = append(loc.Warnings, fmt.Sprintf(
					"path %q does not match the node resolved via serial %q (%q); serial wins", e.Path, e.Serial, dev.Path))
			}
			return loc, nil
		}
	}

	if e.WWN != "" {
		if dev := findByWWN(snap, e.WWN); dev != nil {
			return &Located{KName: dev.KName, Path: dev.Path, MatchedBy: "wwn"}, nil
		}
	}

	if e.Path != "" {
		if dev := findByPath(snap, e.Path); dev != nil {
			return &Located{KName: dev.KName, Path: dev.Path, MatchedBy: "path"}, nil
		}
	}

	if e.Multipath != "" {
		if dev := findByMultipathWWID(snap, e.Multipath); dev != nil {
			return &Located{KName: dev.KName, Path: dev.Path, MatchedBy: "multipath"}, nil
		}
	}

	if e.ISCSI != "" {
		if _, err := parseISCSIURI(e.ISCSI); err != nil {
			return nil, fmt.Errorf("invalid iscsi uri %q: %w", e.ISCSI, err)
		}
		// iSCSI session setup is out of the probe's static view; a connected
		// target shows up as an ordinary disk afterward. Absent a live
		// session, resolution fails here, same as curtin's connect-then-
		// reprobe flow.
		return nil, fmt.Errorf("%w: iscsi target %q not yet connected", ErrNotFound, e.ISCSI)
	}

	if e.NVMeController != "" {
		if dev := findByNVMeController(snap, e.NVMeController); dev != nil {
			return &Located{KName: dev.KName, Path: dev.Path, MatchedBy: "nvme_controller"}, nil
		}
	}

	return nil, ErrNotFound
}

func findBySerial(snap *probe.Snapshot, serial string) *probe.Device {
	for _, d := range snap.Devices {
		if strings.EqualFold(d.Serial, serial) {
			return d
		}
	}
	return nil
}

func findByWWN(snap *probe.Snapshot, wwn string) *probe.Device {
	wwn = strings.TrimPrefix(strings.ToLower(wwn), "0x")
	for _, d := range snap.Devices {
		if strings.TrimPrefix(strings.ToLower(d.WWN), "0x") == wwn {
			return d
		}
	}
	return nil
}

func findByPath(snap *probe.Snapshot, path string) *probe.Device {
	for _, d := range snap.Devices {
		if d.Path == path {
			return d
		}
	}
	return nil
}

func findByMultipathWWID(snap *probe.Snapshot, wwid string) *probe.Device {
	// multipath member devices share the WWN of the multipath map; reuse the
	// WWN lookup as the WWID match.
	return findByWWN(snap, wwid)
}

func findByNVMeController(snap *probe.Snapshot, controllerID string) *probe.Device {
	for _, d := range snap.Devices {
		if strings.HasPrefix(d.KName, "nvme") && strings.Contains(d.KName, controllerID) {
			return d
		}
	}
	return nil
}

// ISCSITarget is the parsed form of curtin's iSCSI URI:
// iscsi:[user[:pass][:iuser[:ipassword]]@]host:proto:port:lun:targetname
type ISCSITarget struct {
	User, Pass, IUser, IPassword string
	Host                         string
	Proto                        string
	Port                         int
	LUN                          int
	TargetName                   string
}

func parseISCSIURI(uri string) (*ISCSITarget, error) {
	body := strings.TrimPrefix(uri, "iscsi:")
	if body == uri {
		return nil, fmt.Errorf("missing iscsi: prefix")
	}

	var authPart, hostPart string
	if idx := strings.LastIndex(body, "@"); idx >= 0 {
		authPart, hostPart = body[:idx], body[idx+1:]
	} else {
		hostPart = body
	}

	t := &ISCSITarget{}
	if authPart != "" {
		fields := strings.SplitN(authPart, ":", 4)
		if len(fields) > 0 {
			t.User = fields[0]
		}
		if len(fields) > 1 {
			t.Pass = fields[1]
		}
		if len(fields) > 2 {
			t.IUser = fields[2]
		}
		if len(fields) > 3 {
			t.IPassword = fields[3]
		}
	}

	fields := strings.SplitN(hostPart, ":", 5)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected host:proto:port:lun:targetname, got %q", hostPart)
	}
	t.Host = fields[0]
	t.Proto = fields[1]
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", fields[2], err)
	}
	t.Port = port
	lun, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("invalid lun %q: %w", fields[3], err)
	}
	t.LUN = lun
	t.TargetName = fields[4]

	// Validated as a structural URI even though net/url isn't a good fit for
	// the colon-delimited scheme; kept as a defensive check against control
	// characters smuggled into the host field.
	if _, err := url.Parse("//" + t.Host); err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", t.Host, err)
	}

	return t, nil
}
