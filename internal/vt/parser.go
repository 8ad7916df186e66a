package vt

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/ansi/parser"
)

const maxParamValue = 65535

// input drives the ansi parser. OSC payloads are collected here because the
// parser reads a 0x9C continuation byte of a UTF-8 rune as ST.
type input struct {
	p      *ansi.Parser
	maxStr int
	strLen int
	osc    []byte
	held   bool
	cur    byte
}

func (in *input) pending() bool {
	return in.p.State() != parser.GroundState
}

// resync drops the sequence in progress and returns to ground.
func (in *input) resync() {
	in.p.Reset()
	in.strLen = 0
	in.osc = in.osc[:0]
	in.held = false
}

func isString(state parser.State) bool {
	switch state {
	case parser.OscStringState, parser.DcsStringState,
		parser.SosStringState, parser.PmStringState, parser.ApcStringState:
		return true
	}
	return false
}

func utf8Lead(b byte) bool {
	return b >= 0xC2 && b <= 0xF4
}

// seq is the CSI or ESC sequence being dispatched.
type seq struct {
	params []int
	// colon[i] marks params[i] as a sub-parameter of params[i-1].
	colon  []bool
	prefix byte
	inter  byte
	final  byte
}

func (q *seq) load(cmd ansi.Cmd, params ansi.Params) {
	q.params = q.params[:0]
	q.colon = q.colon[:0]
	q.prefix, q.inter, q.final = cmd.Prefix(), cmd.Intermediate(), cmd.Final()
	for i, p := range params {
		v := min(p.Param(0), maxParamValue)
		q.params = append(q.params, v)
		q.colon = append(q.colon, i > 0 && params[i-1].HasMore())
	}
}

// param returns parameter i, or def when it is missing or zero.
func (q *seq) param(i, def int) int {
	if i >= len(q.params) || q.params[i] == 0 {
		return def
	}
	return q.params[i]
}

// rawParam returns parameter i, or def when it is missing.
func (q *seq) rawParam(i, def int) int {
	if i >= len(q.params) {
		return def
	}
	return q.params[i]
}

func (q *seq) describeCSI() string {
	var b strings.Builder
	b.WriteString("CSI ")
	if q.prefix != 0 {
		b.WriteByte(q.prefix)
	}
	for i, v := range q.params {
		if i > 0 {
			if q.colon[i] {
				b.WriteByte(':')
			} else {
				b.WriteByte(';')
			}
		}
		b.WriteString(strconv.Itoa(v))
	}
	if q.inter != 0 {
		b.WriteByte(q.inter)
	}
	b.WriteByte(q.final)
	return b.String()
}

func (q *seq) describeEscape() string {
	if q.inter != 0 {
		return "ESC " + string(q.inter) + string(q.final)
	}
	return "ESC " + string(q.final)
}
