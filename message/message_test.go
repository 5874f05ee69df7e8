package message

import (
	"errors"
	"testing"
)

func TestTargetKeepsDottedService(t *testing.T) {
	req := &RPCMessage{
		Service: "org.apache.dubbo.samples.serialization.automatic",
		Method:  "unary",
	}
	if got := req.Target(); got != "org.apache.dubbo.samples.serialization.automatic/unary" {
		t.Fatalf("unexpected target: %s", got)
	}
}

func TestReplyAndFail(t *testing.T) {
	req := &RPCMessage{Service: "Users", Method: "listUsers", Payload: []byte(`[]`)}

	resp := req.Reply([]byte(`{"total_count":0}`))
	if resp.Service != req.Service || resp.Method != req.Method {
		t.Fatalf("reply lost its target: %+v", resp)
	}
	if resp.Error != "" {
		t.Fatalf("expect no error, got %q", resp.Error)
	}

	failed := req.Fail(errors.New("boom"))
	if failed.Error != "boom" || failed.Payload != nil {
		t.Fatalf("unexpected failure envelope: %+v", failed)
	}
}
