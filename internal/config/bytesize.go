package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing in config
// files and environment variables: "5MB", "1.5 GB", "500KB", or a raw byte
// count. Units are binary (1024-based) and case-insensitive.
type ByteSize int64

const (
	kib ByteSize = 1024
	mib ByteSize = 1024 * kib
	gib ByteSize = 1024 * mib
	tib ByteSize = 1024 * gib
)

var byteSizeUnits = map[string]ByteSize{
	"":    1,
	"b":   1,
	"k":   kib,
	"kb":  kib,
	"kib": kib,
	"m":   mib,
	"mb":  mib,
	"mib": mib,
	"g":   gib,
	"gb":  gib,
	"gib": gib,
	"t":   tib,
	"tb":  tib,
	"tib": tib,
}

var byteSizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	matches := byteSizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	mult, ok := byteSizeUnits[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q", matches[2])
	}
	return ByteSize(value * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a quoted
// human-readable string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var raw int64
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*b = ByteSize(raw)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns a human-readable representation using the largest unit
// that yields a value >= 1.
func (b ByteSize) String() string {
	if b < 0 {
		return "-" + (-b).String()
	}
	switch {
	case b >= tib:
		return formatByteSize(float64(b)/float64(tib), "TB")
	case b >= gib:
		return formatByteSize(float64(b)/float64(gib), "GB")
	case b >= mib:
		return formatByteSize(float64(b)/float64(mib), "MB")
	case b >= kib:
		return formatByteSize(float64(b)/float64(kib), "KB")
	default:
		return fmt.Sprintf("%dB", int64(b))
	}
}

func formatByteSize(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".")
	return formatted + unit
}
