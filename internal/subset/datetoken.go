package subset

import (
	"fmt"
	"strconv"
	"time"
)

// FormatDate renders t as the service date token: "A", the four digit year and the zero padded
// day of year. 2015-01-01 becomes A2015001.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("A%04d%03d", t.Year(), t.YearDay())
}

// ParseDateToken is the inverse of FormatDate. It returns the calendar date at UTC midnight.
func ParseDateToken(token string) (time.Time, error) {
	if len(token) != 8 || token[0] != 'A' {
		return time.Time{}, fmt.Errorf("invalid date token %q", token)
	}

	year, err := strconv.Atoi(token[1:5])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date token %q: %w", token, err)
	}
	day, err := strconv.Atoi(token[5:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date token %q: %w", token, err)
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	if day < 1 || day > start.AddDate(1, 0, -1).YearDay() {
		return time.Time{}, fmt.Errorf("invalid date token %q: day %d out of range", token, day)
	}
	return start.AddDate(0, 0, day-1), nil
}
