// Package at defines the wire-level vocabulary of the Hayes AT command
// protocol as spoken by Quectel BG77/BG96 family modems: final result
// tokens, unsolicited result codes, line splitting for bufio.Scanner and
// the field cursor used to pick apart response lines.
package at

import "strings"

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Success tokens
	OK      = "OK"
	Connect = "CONNECT"
	SendOK  = "SEND OK"

	// Error tokens
	ERROR      = "ERROR"
	Busy       = "BUSY"
	NoCarrier  = "NO CARRIER"
	NoAnswer   = "NO ANSWER"
	NoDialtone = "NO DIALTONE"
	Aborted    = "ABORTED"
	SendFail   = "SEND FAIL"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// Unprefixed URCs
	UrcAppReady        = "APP RDY"
	UrcReady           = "RDY"
	UrcNormalPowerDown = "NORMAL POWER DOWN"
	UrcPoweredDown     = "POWERED DOWN"
	UrcPsmPowerDown    = "PSM POWER DOWN"

	// Prefixed URCs
	UrcPrefix = "+QIURC:"
)

// ResponseType classifies a single token produced by the splitter.
type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR, +CME ERROR: ...
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+QCSQ: ...)
	TypePrompt                     // Data input prompt
)

// successTokens are final tokens that terminate a command with success.
var successTokens = []string{OK, Connect, SendOK}

// errorTokens are final tokens that terminate a command with failure.
// +CME/+CMS errors are matched by prefix separately since they carry a value.
var errorTokens = []string{ERROR, Busy, NoCarrier, NoAnswer, NoDialtone, Aborted, SendFail}

// bareURCs are unsolicited tokens without a "+PREFIX:" form.
var bareURCs = []string{UrcAppReady, UrcNormalPowerDown, UrcPoweredDown, UrcPsmPowerDown, UrcReady}

// IsSuccessFinal reports whether line is a success-terminating final token.
func IsSuccessFinal(line string) bool {
	for _, t := range successTokens {
		if line == t {
			return true
		}
	}
	return false
}

// IsErrorFinal reports whether line is a failure-terminating final token.
func IsErrorFinal(line string) bool {
	for _, t := range errorTokens {
		if line == t {
			return true
		}
	}
	return strings.HasPrefix(line, CmeError) || strings.HasPrefix(line, CmsError)
}

// IsBareURC reports whether line is one of the unprefixed unsolicited tokens.
func IsBareURC(line string) bool {
	for _, t := range bareURCs {
		if line == t {
			return true
		}
	}
	return false
}

// Classify identifies the nature of the modem output.
//
// Prefixed URCs (+QIURC: ...) are recognized here so the event dispatcher
// sees them even when a command is in flight. Everything else that is not a
// final token or the prompt is intermediate data belonging to the current
// command.
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}
	if IsSuccessFinal(line) || IsErrorFinal(line) {
		return TypeFinal
	}
	if IsBareURC(line) || strings.HasPrefix(line, UrcPrefix) {
		return TypeURC
	}
	return TypeData
}
