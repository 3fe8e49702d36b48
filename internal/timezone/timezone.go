// Package timezone resolves free-form city names and UTC offsets sent
// during onboarding into a canonical timezone name.
package timezone

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Known cities, lowercased. Russian cities first (the bot's audience),
// a few world capitals for good measure.
var cityZones = map[string]string{
	"москва":           "Europe/Moscow",
	"санкт-петербург":  "Europe/Moscow",
	"питер":            "Europe/Moscow",
	"казань":           "Europe/Moscow",
	"нижний новгород":  "Europe/Moscow",
	"ростов-на-дону":   "Europe/Moscow",
	"волгоград":        "Europe/Moscow",
	"краснодар":        "Europe/Moscow",
	"саратов":          "Europe/Moscow",
	"самара":           "Europe/Samara",
	"екатеринбург":     "Asia/Yekaterinburg",
	"челябинск":        "Asia/Yekaterinburg",
	"уфа":              "Asia/Yekaterinburg",
	"пермь":            "Asia/Yekaterinburg",
	"омск":             "Asia/Omsk",
	"новосибирск":      "Asia/Novosibirsk",
	"красноярск":       "Asia/Krasnoyarsk",
	"иркутск":          "Asia/Irkutsk",
	"владивосток":      "Asia/Vladivostok",
	"хабаровск":        "Asia/Vladivostok",
	"moscow":           "Europe/Moscow",
	"saint petersburg": "Europe/Moscow",
	"new york":         "America/New_York",
	"london":           "Europe/London",
	"paris":            "Europe/Paris",
	"berlin":           "Europe/Berlin",
	"tokyo":            "Asia/Tokyo",
	"beijing":          "Asia/Shanghai",
	"sydney":           "Australia/Sydney",
}

var displayNames = map[string]string{
	"Europe/Moscow":      "Московское время",
	"Europe/Samara":      "Самарское время",
	"Asia/Yekaterinburg": "Екатеринбургское время",
	"Asia/Omsk":          "Омское время",
	"Asia/Novosibirsk":   "Новосибирское время",
	"Asia/Krasnoyarsk":   "Красноярское время",
	"Asia/Irkutsk":       "Иркутское время",
	"Asia/Vladivostok":   "Владивостокское время",
}

// utc+3, UTC-05, gmt+10:30 and bare +03:00 forms.
var offsetRe = regexp.MustCompile(`(?i)^(?:utc|gmt)?\s*([+-])\s*(\d{1,2})(?::(\d{2}))?$`)

// Resolve maps user input to a canonical timezone name. Accepted forms:
// a known city, a UTC offset ("UTC+5", "+03:00"), or an IANA zone name.
// The returned name is what gets stored on the profile.
func Resolve(input string) (string, error) {
	text := strings.ToLower(strings.TrimSpace(input))
	if text == "" {
		return "", fmt.Errorf("empty timezone input")
	}

	if zone, ok := cityZones[text]; ok {
		return zone, nil
	}

	if m := offsetRe.FindStringSubmatch(text); m != nil {
		hours, err := strconv.Atoi(m[2])
		if err != nil || hours > 14 {
			return "", fmt.Errorf("offset out of range: %q", input)
		}
		if m[3] == "" || m[3] == "00" {
			return fmt.Sprintf("UTC%s%d", m[1], hours), nil
		}
		return fmt.Sprintf("UTC%s%d:%s", m[1], hours, m[3]), nil
	}

	// Raw IANA name, e.g. "Europe/Moscow".
	if strings.Contains(input, "/") {
		trimmed := strings.TrimSpace(input)
		if _, err := time.LoadLocation(trimmed); err == nil {
			return trimmed, nil
		}
	}

	return "", fmt.Errorf("unknown city or timezone: %q", input)
}

// DisplayName returns a human-readable Russian name for a resolved
// zone, falling back to the zone name itself.
func DisplayName(zone string) string {
	if name, ok := displayNames[zone]; ok {
		return name
	}
	return zone
}
