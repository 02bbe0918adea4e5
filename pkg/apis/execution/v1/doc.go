// Package v1 contains the wire format of execution requests.
//
// The canonical form is the XML envelope understood by existing requesters:
//
//	<ExecutionRequest>
//	  <Executable encoding="Base64">...</Executable>
//	  <Target><Architecture>arm</Architecture><Board>tqma7d</Board></Target>
//	  <RetryMaximum>3</RetryMaximum>
//	  <Timeout>60</Timeout>
//	  <EndString>*** END OF TEST ***</EndString>
//	  <SerialTimeout>1</SerialTimeout>
//	</ExecutionRequest>
//
// A JSON rendition with the same fields is accepted as well. Timeouts are
// whole seconds.
package v1
