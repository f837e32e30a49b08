package table

import (
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

type Kind uint8

const (
	Missing Kind = iota
	Number
	Text
	Instant
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	case Instant:
		return "instant"
	default:
		return "missing"
	}
}

// Cell is one typed value. The zero Cell is Missing.
type Cell struct {
	kind  Kind
	num   float64
	text  string
	at    time.Time
	naive bool
}

func MissingCell() Cell {
	return Cell{}
}

func NumberCell(f float64) Cell {
	return Cell{kind: Number, num: f}
}

func TextCell(s string) Cell {
	return Cell{kind: Text, text: s}
}

// InstantCell holds a point in time. Naive instants carry wall-clock values
// without a published offset.
func InstantCell(t time.Time, naive bool) Cell {
	return Cell{kind: Instant, at: t, naive: naive}
}

func (c Cell) Kind() Kind {
	return c.kind
}

func (c Cell) IsMissing() bool {
	return c.kind == Missing
}

func (c Cell) Float() (float64, bool) {
	return c.num, c.kind == Number
}

func (c Cell) Text() (string, bool) {
	return c.text, c.kind == Text
}

func (c Cell) Time() (time.Time, bool) {
	return c.at, c.kind == Instant
}

func (c Cell) Naive() bool {
	return c.kind == Instant && c.naive
}

func (c Cell) Equal(o Cell) bool {
	if c.kind != o.kind {
		return false
	}
	switch c.kind {
	case Number:
		return c.num == o.num
	case Text:
		return c.text == o.text
	case Instant:
		return c.naive == o.naive && c.at.Equal(o.at)
	default:
		return true
	}
}

func (c Cell) String() string {
	switch c.kind {
	case Number:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case Text:
		return c.text
	case Instant:
		if c.naive {
			return c.at.Format("2006-01-02T15:04:05")
		}
		return c.at.Format(time.RFC3339)
	default:
		return ""
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case Number:
		return json.Marshal(c.num)
	case Text, Instant:
		return json.Marshal(c.String())
	default:
		return []byte("null"), nil
	}
}
