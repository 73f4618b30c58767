package resp

import (
	"bytes"
	"fmt"
	"strconv"
)

// CRLF terminates every protocol line.
const CRLF = "\r\n"

// --------------------------------------------------------------------------
// Result Codes
// --------------------------------------------------------------------------

// CmdRet classifies the outcome of a command. Handlers set exactly one
// result per command; everything that is not RetNone/RetOK/RetPong is
// rendered as an error line on the wire.
type CmdRet int

const (
	RetNone CmdRet = iota
	RetOK
	RetPong
	RetSyntaxErr
	RetInvalidInt
	RetInvalidFloat
	RetOverflow
	RetNotFound
	RetOutOfRange
	RetInvalidPwd
	RetNoAuth
	RetWrongNum
	RetInvalidDB
	RetWrongType
	RetUnknownCmd
	RetUnknownSubCmd
	RetWrongLeader
	RetMultiKey
	RetTxAborted
	RetErrOther
)

// --------------------------------------------------------------------------
// Reply Accumulator
// --------------------------------------------------------------------------

// Reply accumulates the pending response for one command. It is not safe for
// concurrent use; per-connection serialization is guaranteed by the caller.
type Reply struct {
	buf bytes.Buffer
	ret CmdRet
}

// None reports whether no result has been set and no payload accumulated.
func (r *Reply) None() bool { return r.ret == RetNone && r.buf.Len() == 0 }

// Ok reports whether the reply carries no error result.
func (r *Reply) Ok() bool { return r.ret == RetOK || r.ret == RetNone || r.ret == RetPong }

// Ret returns the result code currently set on the reply.
func (r *Reply) Ret() CmdRet { return r.ret }

// Clear resets the reply to its empty state.
func (r *Reply) Clear() {
	r.buf.Reset()
	r.ret = RetNone
}

// Bytes returns the accumulated wire payload.
func (r *Reply) Bytes() []byte { return r.buf.Bytes() }

// Message returns the accumulated wire payload as a string.
func (r *Reply) Message() string { return r.buf.String() }

// Len returns the size of the accumulated payload in bytes.
func (r *Reply) Len() int { return r.buf.Len() }

// SetRes sets the command result and renders the matching protocol line.
// For error results an optional content overrides or augments the default
// message, mirroring the wording clients expect.
func (r *Reply) SetRes(ret CmdRet, content ...string) {
	r.ret = ret
	extra := ""
	if len(content) > 0 {
		extra = content[0]
	}
	switch ret {
	case RetNone:
		// keep payload untouched
	case RetOK:
		r.SetLineString("+OK")
	case RetPong:
		r.SetLineString("+PONG")
	case RetSyntaxErr:
		r.SetLineString("-ERR syntax error")
	case RetInvalidInt:
		r.SetLineString("-ERR value is not an integer or out of range")
	case RetInvalidFloat:
		r.SetLineString("-ERR value is not a valid float")
	case RetOverflow:
		r.SetLineString("-ERR increment or decrement would overflow")
	case RetNotFound:
		r.SetLineString("-ERR no such key")
	case RetOutOfRange:
		r.SetLineString("-ERR index out of range")
	case RetInvalidPwd:
		r.SetLineString("-ERR invalid password")
	case RetNoAuth:
		r.SetLineString("-NOAUTH Authentication required")
	case RetWrongNum:
		r.SetLineString(fmt.Sprintf("-ERR wrong number of arguments for '%s' command", extra))
	case RetInvalidDB:
		r.SetLineString("-ERR invalid DB index")
	case RetWrongType:
		r.SetLineString("-WRONGTYPE Operation against a key holding the wrong kind of value")
	case RetUnknownCmd:
		r.SetLineString(fmt.Sprintf("-ERR unknown command '%s'", extra))
	case RetUnknownSubCmd:
		r.SetLineString(fmt.Sprintf("-ERR unknown sub command '%s'", extra))
	case RetWrongLeader:
		r.SetLineString(fmt.Sprintf("-ERR wrong leader %s", extra))
	case RetMultiKey:
		r.SetLineString("-ERR keys in request don't hash to the same slot")
	case RetTxAborted:
		r.SetLineString("-EXECABORT Transaction discarded because of previous errors")
	case RetErrOther:
		if extra != "" {
			r.SetLineString("-ERR " + extra)
		} else {
			r.SetLineString("-ERR unexpected error")
		}
	default:
		r.SetLineString("-ERR unexpected error")
	}
}

// --------------------------------------------------------------------------
// Typed Append Methods
// --------------------------------------------------------------------------

// SetLineString replaces the payload with a single protocol line.
func (r *Reply) SetLineString(line string) {
	r.buf.Reset()
	r.buf.WriteString(line)
	r.buf.WriteString(CRLF)
}

// AppendStringRaw appends raw bytes without any framing.
func (r *Reply) AppendStringRaw(s string) { r.buf.WriteString(s) }

func (r *Reply) appendLen(prefix byte, n int64) {
	r.buf.WriteByte(prefix)
	r.buf.WriteString(strconv.FormatInt(n, 10))
	r.buf.WriteString(CRLF)
}

// AppendStringLen appends a bulk-string length header ($<n>).
func (r *Reply) AppendStringLen(n int64) { r.appendLen('$', n) }

// AppendArrayLen appends an array length header (*<n>).
func (r *Reply) AppendArrayLen(n int64) { r.appendLen('*', n) }

// AppendInteger appends an integer reply (:<n>).
func (r *Reply) AppendInteger(n int64) { r.appendLen(':', n) }

// AppendContent appends payload bytes followed by CRLF.
func (r *Reply) AppendContent(v string) {
	r.buf.WriteString(v)
	r.buf.WriteString(CRLF)
}

// AppendString appends a complete bulk string (header + content).
func (r *Reply) AppendString(v string) {
	r.AppendStringLen(int64(len(v)))
	r.AppendContent(v)
}

// AppendStringVector appends an array of bulk strings.
func (r *Reply) AppendStringVector(vs []string) {
	r.AppendArrayLen(int64(len(vs)))
	for _, v := range vs {
		r.AppendString(v)
	}
}

// AppendStatus appends a simple status line (+<text>).
func (r *Reply) AppendStatus(v string) {
	r.buf.WriteByte('+')
	r.buf.WriteString(v)
	r.buf.WriteString(CRLF)
}

// AppendError appends an error line (-<text>).
func (r *Reply) AppendError(v string) {
	r.buf.WriteByte('-')
	r.buf.WriteString(v)
	r.buf.WriteString(CRLF)
}

// AppendNull appends the null bulk string ($-1).
func (r *Reply) AppendNull() { r.AppendStringLen(-1) }

// AppendNullArray appends the null array (*-1), used for aborted
// transactions and timed-out blocking reads.
func (r *Reply) AppendNullArray() { r.AppendArrayLen(-1) }
