package repositories

import (
	"github.com/fxamacker/cbor/v2"
)

// Records are stored with Core Deterministic Encoding so that equal
// records always produce identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("repositories: cbor encoder initialization failed: " + err.Error())
	}
	// Unknown fields are ignored so older binaries can read newer records
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("repositories: cbor decoder initialization failed: " + err.Error())
	}
}

func encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func decode(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
