// Package console implements the §7 user-visible reporting contract:
// colorized "error"/"warn"/"info"/"success" tags on a TTY, plain text
// otherwise, plus the progress-bar boundary named as an external
// collaborator in §6 (progress bars are suppressed when stdout isn't a
// TTY, and this module never renders one itself).
package console

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Console wraps a logrus.Logger configured the way the rest of the pack's
// JTAG tooling configures one (prefixed, colorized formatter over a
// colorable writer), plus the one tag logrus has no level for: "success".
type Console struct {
	log     *logrus.Logger
	isTTY   bool
	success func(string) string
}

// New builds a Console writing to out. When out is a terminal, output is
// colorized and the formatter includes force-colors; otherwise colors are
// stripped and output is plain text.
func New(out *os.File) *Console {
	tty := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())

	log := logrus.New()
	log.Out = colorable.NewColorable(out)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     tty,
		DisableColors:   !tty,
		ForceFormatting: true,
		FullTimestamp:   false,
	})

	c := &Console{log: log, isTTY: tty}
	if tty {
		c.success = ansi.ColorFunc("green+b")
	} else {
		c.success = func(s string) string { return s }
	}
	return c
}

// Verbose enables debug-level logging (the -v/--verbose CLI flag).
func (c *Console) Verbose(on bool) {
	if on {
		c.log.SetLevel(logrus.DebugLevel)
	} else {
		c.log.SetLevel(logrus.InfoLevel)
	}
}

func (c *Console) Error(format string, args ...interface{}) { c.log.Errorf(format, args...) }
func (c *Console) Warn(format string, args ...interface{})  { c.log.Warnf(format, args...) }
func (c *Console) Info(format string, args ...interface{})  { c.log.Infof(format, args...) }
func (c *Console) Debug(format string, args ...interface{}) { c.log.Debugf(format, args...) }

// Success prints an info-level line tagged green ("success") the way
// FAIL/PASS program-verify outcomes are reported in §4.4/§4.5c.
func (c *Console) Success(format string, args ...interface{}) {
	c.log.Infof("[%s] "+format, append([]interface{}{c.success("success")}, args...)...)
}

// Fail reports a non-fatal verify mismatch (§7: reported, not aborted).
func (c *Console) Fail(format string, args ...interface{}) {
	tag := "FAIL"
	if c.isTTY {
		tag = ansi.Color(tag, "red+b")
	}
	c.log.Warnf("[%s] "+format, append([]interface{}{tag}, args...)...)
}

// IsTTY reports whether output is going to a terminal, used to decide
// whether a Progress implementation should render anything at all.
func (c *Console) IsTTY() bool { return c.isTTY }

// Progress is the external collaborator named in §1/§6: progress-bar
// rendering is out of scope for the core, consumed only through this
// narrow interface.
type Progress interface {
	SetTotal(total int)
	Add(delta int)
	Finish()
}

// NoopProgress discards all updates; used whenever stdout is not a TTY.
type NoopProgress struct{}

func (NoopProgress) SetTotal(int)  {}
func (NoopProgress) Add(int)       {}
func (NoopProgress) Finish()       {}

// NewProgress returns a Progress implementation appropriate for out: a
// no-op when out is not a terminal, otherwise a minimal textual bar. A
// full-featured renderer is expected to be supplied by the embedding
// application; this default keeps the core usable standalone.
func NewProgress(out io.Writer, tty bool, label string) Progress {
	if !tty {
		return NoopProgress{}
	}
	return &textProgress{out: out, label: label}
}

type textProgress struct {
	out     io.Writer
	label   string
	total   int
	current int
}

func (p *textProgress) SetTotal(total int) { p.total = total }

func (p *textProgress) Add(delta int) {
	p.current += delta
	if p.total <= 0 {
		return
	}
	pct := p.current * 100 / p.total
	io.WriteString(p.out, "\r"+p.label+": "+itoa(pct)+"%")
}

func (p *textProgress) Finish() {
	io.WriteString(p.out, "\r"+p.label+": 100%\n")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
