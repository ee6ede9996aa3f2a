package rest2redis

// Authorize reports whether presented is on allowList. An empty allowList admits
// every request, including ones without a key.
func Authorize(presented string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, key := range allowList {
		if presented == key {
			return true
		}
	}
	return false
}
