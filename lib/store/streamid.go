package store

import (
	"math"
	"strconv"
	"strings"
)

// StreamID identifies a stream entry. IDs are ordered by Ms, then by Seq.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

var (
	// MinStreamID is the smallest possible id ("-" in range queries)
	MinStreamID = StreamID{}
	// MaxStreamID is the largest possible id ("+" in range queries)
	MaxStreamID = StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}
)

// Compare returns -1, 0 or +1 if id is smaller, equal or greater than other
func (id StreamID) Compare(other StreamID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// Less reports whether id orders before other
func (id StreamID) Less(other StreamID) bool {
	return id.Compare(other) < 0
}

// IsZero reports whether id is 0-0
func (id StreamID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// String returns the wire representation "ms-seq"
func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// ParseStreamID parses a fully specified id "ms-seq". A bare "ms" is accepted
// and yields sequence 0.
func ParseStreamID(s string) (StreamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if !hasSeq {
		return StreamID{Ms: ms}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// ParseRangeBound parses the start or end argument of a range query.
// "-" and "+" denote the smallest and largest id. A bare millisecond value
// defaults the sequence to 0 for a start bound and to the largest sequence for
// an end bound.
func ParseRangeBound(s string, isEnd bool) (StreamID, error) {
	switch s {
	case "-":
		return MinStreamID, nil
	case "+":
		return MaxStreamID, nil
	}
	if !strings.Contains(s, "-") {
		ms, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return StreamID{}, ErrInvalidStreamID
		}
		if isEnd {
			return StreamID{Ms: ms, Seq: math.MaxUint64}, nil
		}
		return StreamID{Ms: ms}, nil
	}
	return ParseStreamID(s)
}
