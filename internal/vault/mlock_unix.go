//go:build unix

package vault

import "golang.org/x/sys/unix"

// mlockSufficient compares RLIMIT_MEMLOCK against minKB. An unlimited limit
// reports -1.
func mlockSufficient(minKB int64) (bool, int64) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rl); err != nil {
		return false, 0
	}
	if rl.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rl.Cur / 1024)
	return limitKB >= minKB, limitKB
}
