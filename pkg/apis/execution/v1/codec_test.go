package v1

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const legacyRequest = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>
<ExecutionRequest>
  <Executable encoding="Base64">aGVs
bG8=</Executable>
  <Target>
    <Architecture>arm</Architecture>
    <Board>tqma7d</Board>
  </Target>
  <RetryMaximum>2</RetryMaximum>
  <Timeout> 60 </Timeout>
  <EndString>*** END OF TEST ***</EndString>
  <SerialTimeout>1</SerialTimeout>
</ExecutionRequest>`

func TestDecodeLegacyXML(t *testing.T) {
	req, err := Decode(strings.NewReader(legacyRequest), "text/xml; charset=utf-8")
	require.NoError(t, err)
	require.NoError(t, req.Validate())

	require.Equal(t, Target{Architecture: "arm", Board: "tqma7d"}, req.Target)
	require.Equal(t, 2, req.RetryMaximum)
	require.Equal(t, time.Minute, req.TimeoutDuration())
	require.Equal(t, time.Second, req.SerialTimeoutDuration())
	require.Equal(t, "*** END OF TEST ***", req.EndString)

	payload, err := req.Payload()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), payload)
}

func TestDecodeJSON(t *testing.T) {
	body := `{"executable":{"data":"aGVsbG8="},"target":{"architecture":"x86","board":"qemu"},"retryMaximum":0,"timeout":5,"endString":"DONE","serialTimeout":0}`

	req, err := Decode(strings.NewReader(body), "application/json")
	require.NoError(t, err)
	require.NoError(t, req.Validate())
	require.Equal(t, "qemu", req.Target.Board)

	payload, err := req.Payload()
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"board":"qemu"}`), "application/json")
	require.Error(t, err)
}

func TestEncodeRoundTripsThroughXML(t *testing.T) {
	req := NewExecutionRequest([]byte{0x7f, 'E', 'L', 'F', 0x00}, Target{Architecture: "arm", Board: "tqma7d"})
	req.RetryMaximum = 1
	req.Timeout = 30
	req.EndString = "EXIT <0>"
	req.SerialTimeout = 2

	var buf bytes.Buffer
	require.NoError(t, req.EncodeXML(&buf))
	require.True(t, strings.HasPrefix(buf.String(), "<?xml"))
	require.Contains(t, buf.String(), `<Executable encoding="Base64">`)

	got, err := Decode(&buf, ContentTypeXML)
	require.NoError(t, err)
	require.Equal(t, "EXIT <0>", got.EndString)

	payload, err := got.Payload()
	require.NoError(t, err)
	require.Equal(t, []byte{0x7f, 'E', 'L', 'F', 0x00}, payload)
}

func TestPayloadErrors(t *testing.T) {
	req := &ExecutionRequest{Executable: Executable{Encoding: "hex", Data: "00"}}
	_, err := req.Payload()
	require.ErrorContains(t, err, "unsupported executable encoding")

	req.Executable = Executable{Data: "  \n"}
	_, err = req.Payload()
	require.ErrorContains(t, err, "empty")

	req.Executable = Executable{Data: "!!!"}
	_, err = req.Payload()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *ExecutionRequest {
		return &ExecutionRequest{
			Target:    Target{Architecture: "arm", Board: "tqma7d"},
			Timeout:   10,
			EndString: "END",
		}
	}

	tests := []struct {
		name   string
		mutate func(r *ExecutionRequest)
		errMsg string
	}{
		{"ok", func(*ExecutionRequest) {}, ""},
		{"no board", func(r *ExecutionRequest) { r.Target.Board = "" }, "architecture and board"},
		{"negative retries", func(r *ExecutionRequest) { r.RetryMaximum = -1 }, "retry maximum"},
		{"zero timeout", func(r *ExecutionRequest) { r.Timeout = 0 }, "timeout must be"},
		{"negative serial timeout", func(r *ExecutionRequest) { r.SerialTimeout = -1 }, "serial timeout"},
		{"longest timeout", func(r *ExecutionRequest) { r.Timeout = MaxTimeoutSeconds }, ""},
		{"overflowing timeout", func(r *ExecutionRequest) { r.Timeout = 10_000_000_000 }, "must not exceed"},
		{"overflowing serial timeout", func(r *ExecutionRequest) { r.SerialTimeout = 10_000_000_000 }, "serial timeout must not exceed"},
		{"no end string", func(r *ExecutionRequest) { r.EndString = "" }, "end string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}
