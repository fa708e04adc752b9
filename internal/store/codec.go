package store

import (
	"encoding/json"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/fxamacker/cbor/v2"
)

// Codec serializes snapshots for the KV backing.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes snapshots as JSON. It is the default codec.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Marshal encodes v as JSON.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes JSON into v.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBORCodec encodes snapshots as deterministic CBOR. Struct fields reuse
// their json tags.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBOR codec with core deterministic encoding and
// RFC 3339 timestamps.
func NewCBORCodec() (*CBORCodec, error) {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	enc, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Name returns "cbor".
func (c *CBORCodec) Name() string { return "cbor" }

// Marshal encodes v as CBOR.
func (c *CBORCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

// Unmarshal decodes CBOR into v.
func (c *CBORCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// CodecByName resolves a codec from its configured name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown snapshot codec %q", name))
	}
}
