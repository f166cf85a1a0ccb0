package payload

// ContainsArabic reports whether s has runes in the Arabic block.
func ContainsArabic(s string) bool {
	for _, r := range s {
		if r >= 0x0600 && r <= 0x06FF {
			return true
		}
	}
	return false
}

// ContainsRTL reports whether s has runes in the Hebrew..Arabic Extended-A
// range. Used in debug logs when chasing encoding problems.
func ContainsRTL(s string) bool {
	for _, r := range s {
		if r >= 0x0590 && r <= 0x08FF {
			return true
		}
	}
	return false
}
