package gax

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// BundleDescriptor describes how requests of one method are coalesced.
type BundleDescriptor struct {
	// BundledField names the repeated request field whose elements are
	// concatenated into the bundled request.
	BundledField string
	// DiscriminatorFields are dotted request paths; requests with equal
	// values are bundled together.
	DiscriminatorFields []string
	// SubresponseField names the repeated response field that is split
	// back into per-request slices. Empty means every request receives
	// the whole response.
	SubresponseField string
}

// BundleOptions controls when a bundle is dispatched. A bundle is sent as
// soon as any threshold is reached; limits cap what a single bundle may
// hold. Zero disables the corresponding bound.
type BundleOptions struct {
	// ElementCountThreshold dispatches a bundle holding at least this
	// many elements.
	ElementCountThreshold int `json:"element_count_threshold" yaml:"element_count_threshold"`
	// ElementCountLimit is the maximum number of elements in one bundle.
	ElementCountLimit int `json:"element_count_limit" yaml:"element_count_limit"`
	// RequestByteThreshold dispatches a bundle whose elements add up to at
	// least this many bytes.
	RequestByteThreshold int `json:"request_byte_threshold" yaml:"request_byte_threshold"`
	// RequestByteLimit is the maximum byte size of one bundle.
	RequestByteLimit int `json:"request_byte_limit" yaml:"request_byte_limit"`
	// DelayThreshold dispatches a bundle this long after its first
	// request was scheduled.
	DelayThreshold time.Duration `json:"delay_threshold" yaml:"delay_threshold"`
}

// Validate ensures the options can ever dispatch a bundle.
func (o BundleOptions) Validate() error {
	if o.ElementCountThreshold < 0 || o.ElementCountLimit < 0 ||
		o.RequestByteThreshold < 0 || o.RequestByteLimit < 0 ||
		o.DelayThreshold < 0 {
		return fmt.Errorf("%w: negative bound in %+v", ErrInvalidBundleOptions, o)
	}

	if o.ElementCountThreshold == 0 && o.RequestByteThreshold == 0 &&
		o.DelayThreshold == 0 {
		return ErrInvalidBundleOptions
	}

	return nil
}

// exceedsLimit reports whether count elements totalling size bytes are more
// than one bundle may carry.
func (o BundleOptions) exceedsLimit(count, size int) bool {
	return (o.ElementCountLimit > 0 && count > o.ElementCountLimit) ||
		(o.RequestByteLimit > 0 && size > o.RequestByteLimit)
}

// reachesThreshold reports whether a bundle of count elements totalling size
// bytes must be dispatched now.
func (o BundleOptions) reachesThreshold(count, size int) bool {
	return (o.ElementCountThreshold > 0 && count >= o.ElementCountThreshold) ||
		(o.RequestByteThreshold > 0 && size >= o.RequestByteThreshold)
}

// ComputeBundleID returns the id grouping req with other requests whose
// discriminator fields hold the same values. The id is a JSON array of the
// stringified values; unset values encode as null.
func ComputeBundleID(req any, fields []string) (string, error) {
	rec, err := AsRecord(req)
	if err != nil {
		return "", err
	}

	parts := make([]*string, len(fields))

	for i, field := range fields {
		v, err := rec.Get(field)
		if err != nil {
			return "", fmt.Errorf("gax: bundle discriminator: %w", err)
		}

		if isZero(v) {
			continue
		}

		s := stringify(v)
		parts[i] = &s
	}

	id, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("gax: encoding bundle id: %w", err)
	}

	return string(id), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case proto.Message:
		return prototext.MarshalOptions{}.Format(t)
	default:
		return fmt.Sprint(v)
	}
}
