// Package codegen builds human-readable record codes such as
// BK202405011030001234: a prefix, a UTC timestamp to the second and four
// random digits.
package codegen

import (
	"fmt"
	"math/rand"
	"time"
)

const layout = "20060102150405"

const (
	PrefixBooking = "BK"
	PrefixPayment = "PAY"
	PrefixRefund  = "RF"
)

func New(prefix string, now time.Time) string {
	return fmt.Sprintf("%s%s%04d", prefix, now.UTC().Format(layout), 1000+rand.Intn(9000))
}

// Valid reports whether code has the given prefix and a well-formed suffix.
func Valid(prefix, code string) bool {
	if len(code) != len(prefix)+len(layout)+4 || code[:len(prefix)] != prefix {
		return false
	}
	rest := code[len(prefix):]
	if _, err := time.Parse(layout, rest[:len(layout)]); err != nil {
		return false
	}
	for _, r := range rest[len(layout):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
