package sandals

// CgroupCounterNonZero scans the contents of a cgroup v2 event file
// (memory.events, pids.events) for a line "key value" and reports
// whether value's leading digit is nonzero. It looks for the key
// followed by optional spaces and a nonzero leading digit, without a
// full line-oriented parse or regexp.
func CgroupCounterNonZero(data []byte, key string) bool {
	kb := []byte(key)
	for i := 0; i+len(kb) <= len(data); i++ {
		if !matchesKeyAtBoundary(data, i, kb) {
			continue
		}
		j := i + len(kb)
		for j < len(data) && data[j] == ' ' {
			j++
		}
		if j < len(data) && data[j] >= '1' && data[j] <= '9' {
			return true
		}
	}
	return false
}

// matchesKeyAtBoundary reports whether kb occurs at data[i:] and is
// preceded by either the start of data or a newline, so a key that is a
// suffix of another key's name (e.g. "max" inside "low_max") is not
// mistaken for a line start.
func matchesKeyAtBoundary(data []byte, i int, kb []byte) bool {
	if i > 0 && data[i-1] != '\n' {
		return false
	}
	for k, c := range kb {
		if data[i+k] != c {
			return false
		}
	}
	return true
}
