package resp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol hard limits. Oversized frames abort the connection instead of
// exhausting memory.
const (
	maxArgCount = 1024 * 64
	maxBulkLen  = 512 * 1024 * 1024
)

// ErrProtocol is returned for malformed frames. The connection should be
// closed by the caller; there is no way to resynchronize the stream.
var ErrProtocol = errors.New("protocol error")

// Parser splits an incoming byte stream into argument vectors.
type Parser struct {
	r *bufio.Reader
}

// NewParser creates a Parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// ReadCommand reads the next complete command and returns its argument
// vector (argv[0] is the command name). Both multi-bulk and inline commands
// are accepted. io.EOF is returned when the peer closed the connection
// between commands.
func (p *Parser) ReadCommand() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		// empty inline line, skip
		return p.ReadCommand()
	}
	if line[0] == '*' {
		return p.readMultiBulk(line)
	}
	return parseInline(line)
}

// readMultiBulk reads the remainder of a multi-bulk command whose array
// header has already been consumed.
func (p *Parser) readMultiBulk(header string) ([]string, error) {
	count, err := strconv.Atoi(header[1:])
	if err != nil || count < 0 || count > maxArgCount {
		return nil, fmt.Errorf("%w: invalid multibulk length %q", ErrProtocol, header)
	}
	argv := make([]string, 0, count)
	for i := 0; i < count; i++ {
		line, err := p.readLine()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		if len(line) == 0 || line[0] != '$' {
			return nil, fmt.Errorf("%w: expected bulk length, got %q", ErrProtocol, line)
		}
		blen, err := strconv.Atoi(line[1:])
		if err != nil || blen < 0 || blen > maxBulkLen {
			return nil, fmt.Errorf("%w: invalid bulk length %q", ErrProtocol, line)
		}
		buf := make([]byte, blen+2)
		if _, err := io.ReadFull(p.r, buf); err != nil {
			return nil, unexpectedEOF(err)
		}
		if buf[blen] != '\r' || buf[blen+1] != '\n' {
			return nil, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrProtocol)
		}
		argv = append(argv, string(buf[:blen]))
	}
	return argv, nil
}

// readLine reads one CRLF (or bare LF) terminated line, without terminator.
func (p *Parser) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil {
		if len(line) > 0 && errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// parseInline splits an inline command on whitespace.
func parseInline(line string) ([]string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty inline command", ErrProtocol)
	}
	return fields, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
