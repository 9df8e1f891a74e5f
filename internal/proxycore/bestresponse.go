package proxycore

// CompareStatusCode orders two final-response status codes from best to
// worst per SPEC_FULL §4.6. It returns a negative number if a is better
// than b, positive if b is better, and 0 if they are equally ranked. 487 is
// always best; 408 is always worst; everything else ranks by ascending
// numeric value.
//
// This is the sole ranking function UASTsx.onNewClientResponseLocked consults —
// there is no secondary sort-based path, so the ordering above is always
// authoritative.
func CompareStatusCode(a, b int) int {
	if a == b {
		return 0
	}
	if a == 408 {
		return 1
	}
	if b == 408 {
		return -1
	}
	if b == 487 {
		return 1
	}
	if a == 487 {
		return -1
	}
	if a < b {
		return -1
	}
	return 1
}

// IsBetter reports whether candidate ranks better than current.
func IsBetter(candidate, current int) bool {
	return CompareStatusCode(candidate, current) < 0
}
