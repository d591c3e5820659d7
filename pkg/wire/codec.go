// Package wire defines the encrypted records exchanged with the group
// service and their CBOR encoding.
package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same record always
// produces the same bytes.
var encMode cbor.EncMode

// decMode ignores unknown fields so newer servers can add them.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// DecodeChange decodes a change record delivered alongside a message.
func DecodeChange(data []byte) (*Change, error) {
	var c Change
	if err := decMode.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DecodeAttributeBlob decodes a decrypted attribute blob.
func DecodeAttributeBlob(data []byte) (*AttributeBlob, error) {
	var b AttributeBlob
	if err := decMode.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
