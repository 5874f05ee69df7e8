package codec

import (
	"math"
	"strings"
	"testing"

	"github.com/juju/errors"

	"user-rpc/message"
)

func sampleMessage() *message.RPCMessage {
	return &message.RPCMessage{
		Service:  "org.apache.dubbo.samples.serialization.automatic",
		Method:   "unary",
		Payload:  []byte(`[{"name":"dubbo-python","age":18}]`),
		Metadata: map[string]string{"codec": "json", "caller": "test"},
	}
}

func assertSameMessage(t *testing.T, want, got *message.RPCMessage) {
	t.Helper()
	if want.Service != got.Service {
		t.Errorf("Service mismatch: got %s, want %s", got.Service, want.Service)
	}
	if want.Method != got.Method {
		t.Errorf("Method mismatch: got %s, want %s", got.Method, want.Method)
	}
	if string(want.Payload) != string(got.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", got.Payload, want.Payload)
	}
	if want.Error != got.Error {
		t.Errorf("Error mismatch: got %s, want %s", got.Error, want.Error)
	}
	if len(want.Metadata) != len(got.Metadata) {
		t.Fatalf("Metadata mismatch: got %v, want %v", got.Metadata, want.Metadata)
	}
	for k, v := range want.Metadata {
		if got.Metadata[k] != v {
			t.Errorf("Metadata[%s] mismatch: got %s, want %s", k, got.Metadata[k], v)
		}
	}
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}
	originalMsg := sampleMessage()

	data, err := jsonCodec.Encode(originalMsg)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decodedMsg message.RPCMessage
	if err := jsonCodec.Decode(data, &decodedMsg); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	assertSameMessage(t, originalMsg, &decodedMsg)
}

func TestBinaryCodec(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	originalMsg := sampleMessage()
	originalMsg.Error = "something went wrong"

	data, err := binaryCodec.Encode(originalMsg)
	if err != nil {
		t.Fatalf("BinaryCodec Encode failed: %v", err)
	}

	var decodedMsg message.RPCMessage
	if err := binaryCodec.Decode(data, &decodedMsg); err != nil {
		t.Fatalf("BinaryCodec Decode failed: %v", err)
	}
	assertSameMessage(t, originalMsg, &decodedMsg)
}

func TestBinaryCodecDeterministic(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	first, _ := binaryCodec.Encode(sampleMessage())
	for i := 0; i < 10; i++ {
		again, _ := binaryCodec.Encode(sampleMessage())
		if string(first) != string(again) {
			t.Fatal("binary encoding depends on map iteration order")
		}
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	data, err := binaryCodec.Encode(sampleMessage())
	if err != nil {
		t.Fatal(err)
	}

	var decodedMsg message.RPCMessage
	if err := binaryCodec.Decode(data[:len(data)/2], &decodedMsg); err == nil {
		t.Fatal("expect error decoding a truncated buffer")
	}
}

func TestBinaryCodecRejectsOtherValues(t *testing.T) {
	if _, err := (&BinaryCodec{}).Encode(map[string]int{"a": 1}); err == nil {
		t.Fatal("expect error encoding a non-message value")
	}
}

func TestBinaryCodecRejectsLongFields(t *testing.T) {
	long := strings.Repeat("x", math.MaxUint16+1)
	cases := []struct {
		name   string
		mutate func(*message.RPCMessage)
	}{
		{"service", func(m *message.RPCMessage) { m.Service = long }},
		{"method", func(m *message.RPCMessage) { m.Method = long }},
		{"error", func(m *message.RPCMessage) { m.Error = long }},
		{"metadata key", func(m *message.RPCMessage) { m.Metadata[long] = "v" }},
		{"metadata value", func(m *message.RPCMessage) { m.Metadata["k"] = long }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := sampleMessage()
			tc.mutate(msg)
			_, err := (&BinaryCodec{}).Encode(msg)
			if !errors.Is(err, errors.NotValid) {
				t.Fatalf("expect not valid error, got %v", err)
			}
		})
	}

	// The limit itself still round-trips.
	msg := sampleMessage()
	msg.Error = long[1:]
	data, err := (&BinaryCodec{}).Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	var got message.RPCMessage
	if err := (&BinaryCodec{}).Decode(data, &got); err != nil {
		t.Fatal(err)
	}
	assertSameMessage(t, msg, &got)
}

func TestParseCodecType(t *testing.T) {
	cases := []struct {
		name    string
		want    CodecType
		wantErr bool
	}{
		{"json", CodecTypeJSON, false},
		{"", CodecTypeJSON, false},
		{"JSON", CodecTypeJSON, false},
		{"binary", CodecTypeBinary, false},
		{"protobuf", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseCodecType(tc.name)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseCodecType(%q) err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("ParseCodecType(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
	if CodecTypeBinary.String() != "binary" || CodecTypeJSON.String() != "json" {
		t.Fatal("unexpected codec names")
	}
}

func TestGetCodecUnknown(t *testing.T) {
	if _, err := GetCodec(CodecType(9)); err == nil {
		t.Fatal("expect error for unknown codec type")
	}
	c, err := GetCodec(CodecTypeBinary)
	if err != nil || c.Type() != CodecTypeBinary {
		t.Fatalf("unexpected codec %v, %v", c, err)
	}
}
