package auth

import "strings"

// NormalizeDialCode validates an international dial code such as "+91".
func NormalizeDialCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, "+") {
		return "", FieldError{Field: "dial_code", Msg: "must start with +"}
	}
	digits := code[1:]
	if len(digits) < 1 || len(digits) > 4 || !allDigits(digits) {
		return "", FieldError{Field: "dial_code", Msg: "must be + followed by 1 to 4 digits"}
	}
	return code, nil
}

// NormalizePhone validates a national number and joins it with its dial code.
// Spaces and dashes in the number are ignored.
func NormalizePhone(dialCode, number string) (string, error) {
	code, err := NormalizeDialCode(dialCode)
	if err != nil {
		return "", err
	}

	number = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(number))
	switch {
	case len(number) < 5:
		return "", FieldError{Field: "phone", Msg: "phone number must be at least 5 digits"}
	case len(number) > 15:
		return "", FieldError{Field: "phone", Msg: "phone number must be at most 15 digits"}
	case !allDigits(number):
		return "", FieldError{Field: "phone", Msg: "phone number must contain only digits"}
	}
	return code + number, nil
}

func validOTP(code string) bool {
	return len(code) >= 4 && len(code) <= 6 && allDigits(code)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
