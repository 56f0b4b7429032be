package mapper

import (
	"regexp"
	"strings"
)

// A single leading upper-case token and its underscore, eg. "POWER_" in
// "POWER_OFF" or "DEVICE_" in "DEVICE_ERROR_NONE"
var enumPrefix = regexp.MustCompile(`^[A-Z]+_`)

// CleanEnum renders a vendor enumerated string constant in human readable
// form: the leading prefix token is stripped, underscores become spaces
// and each word is title-cased.
//
//	CleanEnum("DEVICE_ERROR_NONE")  => "Error None"
//	CleanEnum("POWER_OFF")          => "Off"
//	CleanEnum("RUNNING")            => "Running"
//	CleanEnum(nil)                  => ""
func CleanEnum(v interface{}) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}

	s = enumPrefix.ReplaceAllString(s, "")
	if s == "" {
		return ""
	}

	words := strings.Split(s, "_")
	for i, w := range words {
		w = strings.ToLower(w)
		if len(w) > 0 {
			w = strings.ToUpper(w[:1]) + w[1:]
		}
		words[i] = w
	}

	return strings.Join(words, " ")
}
