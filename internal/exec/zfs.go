package exec

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() {
	register(storageconfig.TypeZpool, execZpool)
	register(storageconfig.TypeZfs, execZfs)
}

// execZpool runs zpool create, preferring /dev/disk/by-id paths for vdevs
// and warning when only a kernel path is available.
// encryption_style: luks_keystore writes a random key file under
// /run/curtin-storage and uses it as the pool's raw key; no LUKS container
// is created.
func execZpool(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: e.Pool}, nil
	}

	var vdevs []string
	var warnings []string
	for _, ref := range e.Vdevs {
		path, err := resolveDevicePath(ec, ref)
		if err != nil {
			return nil, fmt.Errorf("zpool %s: %w", e.ID, err)
		}
		byID, ok := byIDPath(ec, path)
		if ok {
			vdevs = append(vdevs, byID)
		} else {
			vdevs = append(vdevs, path)
			warnings = append(warnings, fmt.Sprintf("zpool %s: vdev %s has no /dev/disk/by-id alias, using kernel path", e.ID, path))
		}
	}

	args := []string{"create"}
	for _, kv := range orderedProps(e.PoolProperties) {
		args = append(args, "-o", fmt.Sprintf("%s=%s", kv.key, kv.value))
	}
	for _, kv := range orderedProps(e.FSProperties) {
		args = append(args, "-O", fmt.Sprintf("%s=%s", kv.key, kv.value))
	}

	if e.EncryptionStyle == "luks_keystore" {
		keyPath, err := provisionLUKSKeystore(ctx, ec, e)
		if err != nil {
			return nil, fmt.Errorf("zpool %s: luks_keystore: %w", e.ID, err)
		}
		args = append(args, "-O", "encryption=on", "-O", "keyformat=raw", "-O", "keylocation=file://"+keyPath)
	}

	args = append(args, e.Pool)
	args = append(args, vdevs...)

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "zpool", Args: args}); err != nil {
		return nil, fmt.Errorf("zpool %s: zpool create: %w", e.ID, err)
	}

	return &Result{DevicePath: e.Pool, Warnings: warnings}, nil
}

// execZfs runs zfs create -o k=v ... for each dataset.
func execZfs(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	pool := ec.ByID[e.Pool]
	poolName := e.Pool
	if pool != nil {
		poolName = pool.Pool
	}
	full := poolName + "/" + e.Dataset

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: full}, nil
	}

	args := []string{"create"}
	for _, kv := range orderedProps(e.Properties) {
		args = append(args, "-o", fmt.Sprintf("%s=%s", kv.key, kv.value))
	}
	args = append(args, full)

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "zfs", Args: args}); err != nil {
		return nil, fmt.Errorf("zfs %s: zfs create: %w", e.ID, err)
	}

	return &Result{DevicePath: full}, nil
}

type propKV struct{ key, value string }

// orderedProps returns a property map's entries sorted by key, so generated
// zpool/zfs invocations are deterministic across runs (useful for
// diagnostics/tests) -- ranging over a map directly would reorder flags on
// every call.
func orderedProps(props map[string]string) []propKV {
	if len(props) == 0 {
		return nil
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]propKV, 0, len(props))
	for _, k := range keys {
		ordered = append(ordered, propKV{k, props[k]})
	}
	return ordered
}

// byIDPath returns the /dev/disk/by-id/wwn-* alias for kernelPath's device,
// for use as a zpool vdev path instead of the kernel's own /dev/sdX name
// (kernel names aren't guaranteed stable across reboots). It reports ok=false
// whenever it can't produce a path that actually exists on disk, so a caller
// never feeds zpool create a vdev path that resolves to nothing.
func byIDPath(ec *Context, kernelPath string) (string, bool) {
	kname := kernelPath[len("/dev/"):]
	dev, ok := ec.Snapshot.Devices[kname]
	if !ok || dev.WWN == "" {
		return "", false
	}
	path := "/dev/disk/by-id/" + idSuffix(dev.WWN)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func idSuffix(wwn string) string {
	return "wwn-0x" + wwn
}

// provisionLUKSKeystore writes 32 random bytes from /dev/urandom to
// /run/curtin-storage/<id>.key and returns that path; the file itself is the
// raw key material. No LUKS container is created.
func provisionLUKSKeystore(ctx context.Context, ec *Context, e *storageconfig.Entry) (string, error) {
	keyPath := fmt.Sprintf("/run/curtin-storage/%s.key", e.ID)
	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
		Name: "sh",
		Args: []string{"-c", fmt.Sprintf("mkdir -p /run/curtin-storage && head -c 32 /dev/urandom > %s", keyPath)},
	}); err != nil {
		return "", err
	}
	return keyPath, nil
}
