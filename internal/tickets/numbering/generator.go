package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDate = errors.New("departure date must be a valid YYYY-MM-DD calendar date")
	ErrInvalidTime = errors.New("departure time must be HH:MM")
)

// PrefixStore provides the ticket numbers already issued for a prefix.
type PrefixStore interface {
	TicketNumbersByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Generator builds ticket numbers in the form YYYYMMDD-CCC-HH-I, where I is
// the next unused suffix within the (date, ride code, hour) bucket. Next must
// run under the bucket lock: the read-then-pick sequence is the one critical
// section of the whole system.
type Generator struct {
	Store PrefixStore
}

func NewGenerator(store PrefixStore) *Generator {
	return &Generator{Store: store}
}

// RideCode derives the 3-character ride code: first 3 characters uppercased,
// non-alphanumeric characters replaced with '0', right-padded with '0'.
// Pure function of the ride id.
func RideCode(rideID string) string {
	code := []byte{'0', '0', '0'}
	for i := 0; i < 3 && i < len(rideID); i++ {
		c := rideID[i]
		switch {
		case c >= 'a' && c <= 'z':
			code[i] = c - ('a' - 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			code[i] = c
		default:
			code[i] = '0'
		}
	}
	return string(code)
}

// FormatTicketDate turns a YYYY-MM-DD string into the YYYYMMDD ticket-number
// segment. The date is parsed as a pure calendar date: impossible dates such
// as February 30th are rejected, never clamped, and no timezone is involved.
func FormatTicketDate(dateStr string) (string, error) {
	parsed, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, dateStr)
	}
	// Round trip guards against lenient inputs the layout still accepts.
	if parsed.Format("2006-01-02") != dateStr {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, dateStr)
	}
	return parsed.Format("20060102"), nil
}

// HourSegment extracts the 2-digit hour from an HH:MM departure time.
func HourSegment(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, timeStr)
	}
	return parts[0], nil
}

// Prefix builds the bucket prefix "{YYYYMMDD}-{CCC}-{HH}-".
func Prefix(rideID, departureTime, departureDate string) (string, error) {
	dateSeg, err := FormatTicketDate(departureDate)
	if err != nil {
		return "", err
	}
	hourSeg, err := HourSegment(departureTime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s-", dateSeg, RideCode(rideID), hourSeg), nil
}

// Next computes the next ticket number for the bucket: max existing suffix
// plus one, starting at 1 for an empty bucket. Suffixes are never recycled.
func (g *Generator) Next(ctx context.Context, rideID, departureTime, departureDate string) (string, error) {
	prefix, err := Prefix(rideID, departureTime, departureDate)
	if err != nil {
		return "", err
	}

	existing, err := g.Store.TicketNumbersByPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to read existing ticket numbers for %s: %w", prefix, err)
	}

	max := 0
	for _, number := range existing {
		suffix, ok := parseSuffix(number, prefix)
		if !ok {
			continue
		}
		if suffix > max {
			max = suffix
		}
	}

	return fmt.Sprintf("%s%d", prefix, max+1), nil
}

func parseSuffix(number, prefix string) (int, bool) {
	if !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	suffix, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil || suffix < 1 {
		return 0, false
	}
	return suffix, true
}
