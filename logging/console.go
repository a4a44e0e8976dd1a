package logging

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Context is the user-facing surface of a session.
type Context interface {
	SendToUser(msg string)
	Log(msg string)
	ErrorMessage(msg string)
	ReadLine() (string, error)
}

// Console is a Context over a reader and writer. Log lines are echoed to
// the writer and recorded through zap.
type Console struct {
	in     *bufio.Reader
	out    io.Writer
	logger *zap.Logger
	quiet  bool
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithConsoleLogger sets the logger Log writes through.
func WithConsoleLogger(l *zap.Logger) ConsoleOption {
	return func(c *Console) {
		c.logger = l
	}
}

// Quiet stops Log from echoing to the writer.
func Quiet() ConsoleOption {
	return func(c *Console) {
		c.quiet = true
	}
}

// NewConsole creates a console reading from in and writing to out.
func NewConsole(in io.Reader, out io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		in:     bufio.NewReader(in),
		out:    out,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) SendToUser(msg string) {
	fmt.Fprintln(c.out, msg)
}

func (c *Console) Log(msg string) {
	c.logger.Info(msg)
	if !c.quiet {
		fmt.Fprintln(c.out, "[orion] "+msg)
	}
}

func (c *Console) ErrorMessage(msg string) {
	c.logger.Warn(msg)
	fmt.Fprintln(c.out, "error: "+msg)
}

// ReadLine returns the next input line without its line terminator. A final
// line without a newline is returned before io.EOF.
func (c *Console) ReadLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
