package codec

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0xFF, 0xD8, 0xFF, 0xD9},
		[]byte("frame1.jpg"),
		make([]byte, 4097),
	}
	for i := range inputs[len(inputs)-1] {
		inputs[len(inputs)-1][i] = byte(i)
	}

	for _, in := range inputs {
		out, err := Decode(Encode(in))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(out), test.ShouldEqual, len(in))
		test.That(t, string(out), test.ShouldEqual, string(in))
	}
}

func TestDecodeInvalid(t *testing.T) {
	for _, text := range []string{"not-base64!!", "abc", "YQ=", "YW\x00Jj"} {
		out, err := Decode(text)
		test.That(t, out, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)
	}
}

func TestDecodeEmpty(t *testing.T) {
	out, err := Decode("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldBeEmpty)
}
