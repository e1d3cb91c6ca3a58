// Package pb holds the FluxControl wire messages and service descriptor
// described by flux.proto. Messages are encoded with protowire so any
// protoc-generated stub for flux.proto interoperates with them.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SaveRequest field numbers
const (
	saveRequestReqID               protowire.Number = 1
	saveRequestRegionName          protowire.Number = 2
	saveRequestExpectedTensorCount protowire.Number = 3
)

// SaveResponse field numbers
const (
	saveResponseSuccess      protowire.Number = 1
	saveResponseBytesWritten protowire.Number = 2
)

type SaveRequest struct {
	ReqId               string
	RegionName          string
	ExpectedTensorCount uint32
}

func (x *SaveRequest) GetReqId() string {
	if x != nil {
		return x.ReqId
	}
	return ""
}

func (x *SaveRequest) GetRegionName() string {
	if x != nil {
		return x.RegionName
	}
	return ""
}

func (x *SaveRequest) GetExpectedTensorCount() uint32 {
	if x != nil {
		return x.ExpectedTensorCount
	}
	return 0
}

func (x *SaveRequest) Marshal() ([]byte, error) {
	var b []byte
	if x.ReqId != "" {
		b = protowire.AppendTag(b, saveRequestReqID, protowire.BytesType)
		b = protowire.AppendString(b, x.ReqId)
	}
	if x.RegionName != "" {
		b = protowire.AppendTag(b, saveRequestRegionName, protowire.BytesType)
		b = protowire.AppendString(b, x.RegionName)
	}
	if x.ExpectedTensorCount != 0 {
		b = protowire.AppendTag(b, saveRequestExpectedTensorCount, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(x.ExpectedTensorCount))
	}
	return b, nil
}

func (x *SaveRequest) Unmarshal(b []byte) error {
	*x = SaveRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == saveRequestReqID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			x.ReqId = v
			return n, nil
		case num == saveRequestRegionName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			x.RegionName = v
			return n, nil
		case num == saveRequestExpectedTensorCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			x.ExpectedTensorCount = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

type SaveResponse struct {
	Success      bool
	BytesWritten uint64
}

func (x *SaveResponse) GetSuccess() bool {
	if x != nil {
		return x.Success
	}
	return false
}

func (x *SaveResponse) GetBytesWritten() uint64 {
	if x != nil {
		return x.BytesWritten
	}
	return 0
}

func (x *SaveResponse) Marshal() ([]byte, error) {
	var b []byte
	if x.Success {
		b = protowire.AppendTag(b, saveResponseSuccess, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(x.Success))
	}
	if x.BytesWritten != 0 {
		b = protowire.AppendTag(b, saveResponseBytesWritten, protowire.VarintType)
		b = protowire.AppendVarint(b, x.BytesWritten)
	}
	return b, nil
}

func (x *SaveResponse) Unmarshal(b []byte) error {
	*x = SaveResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == saveResponseSuccess && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			x.Success = protowire.DecodeBool(v)
			return n, nil
		case num == saveResponseBytesWritten && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			x.BytesWritten = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// consumeFields walks a message, handing each field's value bytes to fn.
// Unknown fields are skipped.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bad field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("bad value for field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
