package fingerprint

import (
	"bytes"

	"github.com/mdp/qrterminal/v3"
)

// QrCode renders a terminal QR code for out-of-band safety-number checks.
func QrCode(b []byte) ([]byte, error) {
	var buffer bytes.Buffer
	qrterminal.Generate(string(b), qrterminal.L, &buffer)
	return buffer.Bytes(), nil
}
