package membership

// ValidPhone reports whether s looks like a dialable phone number: an
// optional leading +, 7 to 15 digits, with spaces, dots, dashes, and
// parentheses permitted as separators. No normalization is attempted.
func ValidPhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+':
			if i != 0 {
				return false
			}
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
