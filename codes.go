package gax

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CodeSet is a set of canonical status codes, used by [RetryPolicy] to
// decide which failures are transient.
type CodeSet map[codes.Code]struct{}

// NewCodeSet returns a set holding cc.
func NewCodeSet(cc ...codes.Code) CodeSet {
	set := make(CodeSet, len(cc))
	for _, c := range cc {
		set[c] = struct{}{}
	}

	return set
}

// Contains reports whether c is in the set. A nil set contains nothing.
func (s CodeSet) Contains(c codes.Code) bool {
	_, ok := s[c]
	return ok
}

// Codes returns the members in ascending order.
func (s CodeSet) Codes() []codes.Code {
	out := make([]codes.Code, 0, len(s))
	for c := range s {
		out = append(out, c)
	}

	slices.Sort(out)

	return out
}

// String renders the set in config notation, e.g. "[DEADLINE_EXCEEDED UNAVAILABLE]".
func (s CodeSet) String() string {
	names := make([]string, 0, len(s))
	for _, c := range s.Codes() {
		names = append(names, CodeName(c))
	}

	return "[" + strings.Join(names, " ") + "]"
}

// grpcStatus is implemented by errors carrying a gRPC status, including
// those created by [status.Error].
type grpcStatus interface {
	GRPCStatus() *status.Status
}

// Code classifies err into a canonical status code. It unwraps err looking
// for a gRPC status; nil maps to OK, context errors map to CANCELLED and
// DEADLINE_EXCEEDED, and anything else maps to UNKNOWN.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}

	var gs grpcStatus
	if errors.As(err, &gs) {
		if st := gs.GRPCStatus(); st != nil {
			return st.Code()
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Unknown
	}
}

// ParseCode maps a config name such as "DEADLINE_EXCEEDED" to its code.
func ParseCode(name string) (codes.Code, error) {
	var c codes.Code
	if err := c.UnmarshalJSON([]byte(strconv.Quote(name))); err != nil {
		return 0, fmt.Errorf("gax: status code %q: %w", name, err)
	}

	return c, nil
}

// codeNames mirrors the google.rpc.Code enum names used in config files.
//
//nolint:gochecknoglobals // static lookup table
var codeNames = map[codes.Code]string{
	codes.OK:                 "OK",
	codes.Canceled:           "CANCELLED",
	codes.Unknown:            "UNKNOWN",
	codes.InvalidArgument:    "INVALID_ARGUMENT",
	codes.DeadlineExceeded:   "DEADLINE_EXCEEDED",
	codes.NotFound:           "NOT_FOUND",
	codes.AlreadyExists:      "ALREADY_EXISTS",
	codes.PermissionDenied:   "PERMISSION_DENIED",
	codes.ResourceExhausted:  "RESOURCE_EXHAUSTED",
	codes.FailedPrecondition: "FAILED_PRECONDITION",
	codes.Aborted:            "ABORTED",
	codes.OutOfRange:         "OUT_OF_RANGE",
	codes.Unimplemented:      "UNIMPLEMENTED",
	codes.Internal:           "INTERNAL",
	codes.Unavailable:        "UNAVAILABLE",
	codes.DataLoss:           "DATA_LOSS",
	codes.Unauthenticated:    "UNAUTHENTICATED",
}

// CodeName returns the config name of c, e.g. "UNAVAILABLE". Codes outside
// the canonical set render as their number.
func CodeName(c codes.Code) string {
	if name, ok := codeNames[c]; ok {
		return name
	}

	return strconv.FormatUint(uint64(c), 10)
}
