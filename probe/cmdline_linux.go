//go:build linux

package probe

import (
	"os"
	"strconv"
	"strings"
)

// readCmdline reads /proc/<pid>/cmdline, whose fields are NUL-separated.
func readCmdline(pid int) (string, error) {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(strings.TrimRight(string(raw), "\x00"), "\x00", " "), nil
}
