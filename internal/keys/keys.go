// ABOUTME: Key derivation between the url key space and the remote content-hash key space
// ABOUTME: Builds and splits entry compound keys "<feedHash>_<strictDate>" used for range scans

package keys

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedKey is returned when a compound key has no separator.
var ErrMalformedKey = errors.New("malformed compound key")

const (
	// Separator joins the feed hash and the strict date in a compound key.
	Separator = "_"

	// StrictLayout is fixed width and sorts lexicographically in time order.
	StrictLayout = "2006-01-02_15:04:05"
	dayLayout    = "2006-01-02"
)

// FeedKey returns the remote row key for a subscription: hex SHA-1 of the URL.
func FeedKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// EntryKey returns the content hash identifying an entry of a feed.
// id is the entry GUID, or its link when the feed provides no GUID.
func EntryKey(feedURL, id string) string {
	sum := sha1.Sum([]byte(feedURL + "|" + id))
	return hex.EncodeToString(sum[:])
}

// StrictDate formats t in UTC using StrictLayout.
func StrictDate(t time.Time) string {
	return t.UTC().Format(StrictLayout)
}

// ParseStrictDate parses either a full strict date or its day-only prefix.
func ParseStrictDate(s string) (time.Time, error) {
	layout := StrictLayout
	if !strings.Contains(s, Separator) {
		layout = dayLayout
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse strict date %q: %w", s, err)
	}
	return t, nil
}

// DayOnly truncates a strict date to its day part.
func DayOnly(strict string) string {
	day, _, _ := strings.Cut(strict, Separator)
	return day
}

// EntryCompoundKey builds "<feedHash>_<strictDate>".
func EntryCompoundKey(feedHash string, date time.Time) string {
	return feedHash + Separator + StrictDate(date)
}

// FeedRange bounds the compound keys of feedHash: lo sorts before and hi
// after every strict date of that feed.
func FeedRange(feedHash string) (lo, hi string) {
	return feedHash + Separator, feedHash + Separator + "~"
}

// SplitEntryCompoundKey recovers the owning feed hash and the strict date.
// The split happens at the first separator; feed hashes are hex and never
// contain one.
func SplitEntryCompoundKey(compound string) (feedHash, date string, err error) {
	feedHash, date, ok := strings.Cut(compound, Separator)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedKey, compound)
	}
	return feedHash, date, nil
}

// MustSplitEntryCompoundKey is SplitEntryCompoundKey for keys the program
// built itself. A malformed key means corrupted data and panics.
func MustSplitEntryCompoundKey(compound string) (feedHash, date string) {
	feedHash, date, err := SplitEntryCompoundKey(compound)
	if err != nil {
		panic(err)
	}
	return feedHash, date
}

// FeedHashOf returns the feed hash prefix of an entry compound key.
func FeedHashOf(compound string) string {
	h, _ := MustSplitEntryCompoundKey(compound)
	return h
}
