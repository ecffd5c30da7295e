package probe

import (
	"bufio"
	"os"
	"strings"
)

// NodevFilesystems reads /proc/filesystems and returns the set of
// filesystem type names the running kernel marks "nodev" (no backing block
// device: tmpfs, proc, sysfs, devpts, and friends). Read at runtime rather
// than hard-coded, since it depends on the kernel build and which
// filesystem modules are loaded.
func NodevFilesystems(procRoot string) (map[string]bool, error) {
	path := procRoot
	if path == "" {
		path = "/proc/filesystems"
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	nodev := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "nodev" {
			nodev[fields[1]] = true
		}
	}
	return nodev, scanner.Err()
}
