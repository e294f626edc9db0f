package sdmmc

import (
	"fmt"
	"time"

	"github.com/dargueta/sdmmc/errors"
)

// fatEpochYear is the earliest year a FAT date field can represent.
const fatEpochYear = 1980

// Timestamp is a calendar date and time with a resolution of one second. It
// carries no time zone; FAT stores local times.
type Timestamp struct {
	Year    uint16
	Month   uint8 // 1-12
	Day     uint8 // 1-31
	Hours   uint8 // 0-23
	Minutes uint8 // 0-59
	Seconds uint8 // 0-59
}

// TimestampFromCalendar validates its arguments and builds a Timestamp. The
// year must be representable in a FAT date, i.e. in [1980, 2107].
func TimestampFromCalendar(
	year int, month, day, hours, minutes, seconds int,
) (Timestamp, error) {
	switch {
	case year < fatEpochYear || year > fatEpochYear+127:
		return Timestamp{}, errors.NewWithMessage(
			errors.KindInvalidArgument,
			fmt.Sprintf("year %d not in range [1980, 2107]", year))
	case month < 1 || month > 12:
		return Timestamp{}, errors.NewWithMessage(
			errors.KindInvalidArgument, fmt.Sprintf("month %d not in range [1, 12]", month))
	case day < 1 || day > daysIn(year, month):
		return Timestamp{}, errors.NewWithMessage(
			errors.KindInvalidArgument,
			fmt.Sprintf("day %d not valid for %04d-%02d", day, year, month))
	case hours < 0 || hours > 23:
		return Timestamp{}, errors.NewWithMessage(
			errors.KindInvalidArgument, fmt.Sprintf("hour %d not in range [0, 23]", hours))
	case minutes < 0 || minutes > 59:
		return Timestamp{}, errors.NewWithMessage(
			errors.KindInvalidArgument, fmt.Sprintf("minute %d not in range [0, 59]", minutes))
	case seconds < 0 || seconds > 59:
		return Timestamp{}, errors.NewWithMessage(
			errors.KindInvalidArgument, fmt.Sprintf("second %d not in range [0, 59]", seconds))
	}

	return Timestamp{
		Year:    uint16(year),
		Month:   uint8(month),
		Day:     uint8(day),
		Hours:   uint8(hours),
		Minutes: uint8(minutes),
		Seconds: uint8(seconds),
	}, nil
}

func daysIn(year, month int) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// TimestampFromTime converts a time.Time, clamping it to the range a FAT
// timestamp can hold.
func TimestampFromTime(t time.Time) Timestamp {
	if t.Year() < fatEpochYear {
		return Timestamp{Year: fatEpochYear, Month: 1, Day: 1}
	} else if t.Year() > fatEpochYear+127 {
		return Timestamp{Year: fatEpochYear + 127, Month: 12, Day: 31, Hours: 23, Minutes: 59, Seconds: 58}
	}
	return Timestamp{
		Year:    uint16(t.Year()),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Hours:   uint8(t.Hour()),
		Minutes: uint8(t.Minute()),
		Seconds: uint8(t.Second()),
	}
}

// TimestampFromFAT decodes the on-disk date and time fields of a directory
// entry.
//
//	date: bits 0-4 day, 5-8 month, 9-15 years since 1980
//	time: bits 0-4 two-second count, 5-10 minutes, 11-15 hours
//
// A zero date decodes to the zero Timestamp.
func TimestampFromFAT(date, clock uint16) Timestamp {
	if date == 0 {
		return Timestamp{}
	}
	return Timestamp{
		Year:    fatEpochYear + (date >> 9),
		Month:   uint8((date >> 5) & 0x0f),
		Day:     uint8(date & 0x1f),
		Hours:   uint8(clock >> 11),
		Minutes: uint8((clock >> 5) & 0x3f),
		Seconds: uint8(clock&0x1f) * 2,
	}
}

// FAT encodes the timestamp into on-disk date and time fields. Seconds are
// truncated to an even number.
func (ts Timestamp) FAT() (date, clock uint16) {
	if ts.IsZero() {
		return 0, 0
	}
	date = (ts.Year-fatEpochYear)<<9 | uint16(ts.Month)<<5 | uint16(ts.Day)
	clock = uint16(ts.Hours)<<11 | uint16(ts.Minutes)<<5 | uint16(ts.Seconds/2)
	return date, clock
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts == Timestamp{}
}

// Time converts the timestamp to a time.Time in UTC. The zero Timestamp
// converts to the zero time.Time so that time.Time.IsZero() still works.
func (ts Timestamp) Time() time.Time {
	if ts.IsZero() {
		return time.Time{}
	}
	return time.Date(
		int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hours), int(ts.Minutes), int(ts.Seconds), 0, time.UTC)
}

func (ts Timestamp) String() string {
	return fmt.Sprintf(
		"%04d-%02d-%02d %02d:%02d:%02d",
		ts.Year, ts.Month, ts.Day, ts.Hours, ts.Minutes, ts.Seconds)
}

// FixedTimeSource always returns the same timestamp. It's the time source for
// hosts without a real-time clock.
type FixedTimeSource struct {
	Timestamp Timestamp
}

func (f FixedTimeSource) GetTimestamp() Timestamp {
	return f.Timestamp
}

// ClockTimeSource reads the host's wall clock. A nil Now uses time.Now.
type ClockTimeSource struct {
	Now func() time.Time
}

func (c ClockTimeSource) GetTimestamp() Timestamp {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return TimestampFromTime(now())
}
