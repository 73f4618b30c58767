// Package resp implements the textual wire protocol spoken by clients and,
// for administrative membership exchanges, by peer nodes.
//
// The package has two halves:
//
//   - Reply: an append-only reply accumulator. Command handlers build their
//     response into a Reply via typed append methods (bulk string, array
//     header, integer, status line, error line) or set a canned result with
//     SetRes. The accumulated payload is handed to the transport in one
//     piece and cleared afterwards.
//
//   - Parser: splits an incoming byte stream into argument vectors. Both the
//     multi-bulk form ("*2\r\n$4\r\nINFO\r\n$4\r\nraft\r\n") and the inline
//     form ("INFO raft\r\n") are accepted; the join handshake between nodes
//     uses the inline form.
//
// Encoded fragments use CRLF line endings throughout:
//
//	bulk string  $<byteLength>\r\n<data>\r\n
//	array        *<elementCount>\r\n<elements...>
//	integer      :<signedInteger>\r\n
//	status       +<text>\r\n
//	error        -<text>\r\n
package resp
