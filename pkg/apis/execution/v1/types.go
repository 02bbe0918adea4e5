package v1

import (
	"encoding/xml"
	"time"
)

const (
	// EncodingBase64 is the only supported executable encoding.
	EncodingBase64 = "Base64"

	ContentTypeXML  = "application/xml"
	ContentTypeJSON = "application/json"
)

// ExecutionRequest asks the farm to run one binary on a board.
type ExecutionRequest struct {
	XMLName xml.Name `xml:"ExecutionRequest" json:"-"`

	Executable Executable `xml:"Executable" json:"executable"`
	Target     Target     `xml:"Target" json:"target"`

	// RetryMaximum is the number of power-cycle retries after a timeout.
	RetryMaximum int `xml:"RetryMaximum" json:"retryMaximum"`

	// Timeout bounds one run of the binary, in seconds.
	Timeout int `xml:"Timeout" json:"timeout"`

	// EndString is literal console text that marks the end of the test.
	EndString string `xml:"EndString" json:"endString"`

	// SerialTimeout is the console read timeout, in seconds.
	SerialTimeout int `xml:"SerialTimeout" json:"serialTimeout"`
}

// Executable carries the encoded binary.
type Executable struct {
	Encoding string `xml:"encoding,attr" json:"encoding,omitempty"`
	Data     string `xml:",chardata" json:"data"`
}

// Target selects the board pool.
type Target struct {
	Architecture string `xml:"Architecture" json:"architecture"`
	Board        string `xml:"Board" json:"board"`
}

// MaxTimeoutSeconds bounds Timeout and SerialTimeout.
const MaxTimeoutSeconds = 7 * 24 * 60 * 60

func (r *ExecutionRequest) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

func (r *ExecutionRequest) SerialTimeoutDuration() time.Duration {
	return time.Duration(r.SerialTimeout) * time.Second
}

// ExecutionResult is the answer to an ExecutionRequest.
type ExecutionResult struct {
	// Text is the console output, or a rendered fault.
	Text string `json:"text"`

	// Fault names the fault kind. It is empty when the job ran, including
	// when the board never answered.
	Fault string `json:"fault,omitempty"`

	// ConsoleLogURL links to the archived console output, if archiving is on.
	ConsoleLogURL string `json:"consoleLogURL,omitempty"`
}
