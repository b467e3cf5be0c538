package at_test

import (
	"bufio"
	"strings"
	"testing"

	"i4.energy/across/cellmodem/at"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple AT command response",
			input:    "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "OK"},
		},
		{
			name:     "AT command with error",
			input:    "AT+CPIN?\r\n+CME ERROR: 10\r\n",
			expected: []string{"AT+CPIN?", "+CME ERROR: 10"},
		},
		{
			name:     "Network registration check",
			input:    "AT+CEREG?\r\n+CEREG: 0,1\r\nOK\r\n",
			expected: []string{"AT+CEREG?", "+CEREG: 0,1", "OK"},
		},
		{
			name:     "Multiple AT commands",
			input:    "ATI\r\nQuectel\r\nBG770\r\nRevision: BG770AGLAAR02A05\r\nOK\r\n",
			expected: []string{"ATI", "Quectel", "BG770", "Revision: BG770AGLAAR02A05", "OK"},
		},
		{
			name:     "URC mixed with AT response",
			input:    "AT+CSQ\r\nAPP RDY\r\n+CSQ: 20,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "APP RDY", "+CSQ: 20,99", "OK"},
		},
		{
			name:     "Data prompt only",
			input:    "> ",
			expected: []string{"> "},
		},
		{
			name:     "Empty lines handling",
			input:    "\r\n\r\nAT\r\nOK\r\n\r\n",
			expected: []string{"", "", "AT", "OK", ""},
		},
		{
			name:     "DNS URC sequence",
			input:    "+QIURC: \"dnsgip\",0,1,600\r\n+QIURC: \"dnsgip\",\"10.0.0.1\"\r\n",
			expected: []string{"+QIURC: \"dnsgip\",0,1,600", "+QIURC: \"dnsgip\",\"10.0.0.1\""},
		},
		// EOF scenarios - testing atEOF functionality
		{
			name:     "Incomplete command at EOF",
			input:    "AT+CSQ\r\n+CSQ: 15,99",
			expected: []string{"AT+CSQ", "+CSQ: 15,99"},
		},
		{
			name:     "Command without CRLF at EOF",
			input:    "AT+CPIN",
			expected: []string{"AT+CPIN"},
		},
		{
			name:     "Response cut off mid-stream at EOF",
			input:    "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\nAPP RDY",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "OK", "APP RDY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokens []string
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.Splitter)

			for scanner.Scan() {
				tokens = append(tokens, scanner.Text())
			}

			if err := scanner.Err(); err != nil {
				t.Fatalf("Scanner error: %v", err)
			}

			if len(tokens) != len(tt.expected) {
				t.Fatalf("Expected %d tokens, got %d.\nExpected: %v\nGot: %v",
					len(tt.expected), len(tokens), tt.expected, tokens)
			}

			for i, expected := range tt.expected {
				if tokens[i] != expected {
					t.Errorf("Token %d: expected %q, got %q", i, expected, tokens[i])
				}
			}
		})
	}
}

var testFrameSpec = at.FrameSpec{Prefix: "+QIRD:", MaxPrefixLen: 16, MaxPayload: 1500}

func TestLocateFrame(t *testing.T) {
	t.Run("Complete frame with CR in payload", func(t *testing.T) {
		data := []byte("+QIRD: 5\r\nAB\rCD\r\nOK\r\n")
		status, frame, err := at.LocateFrame(data, testFrameSpec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != at.FrameLocated {
			t.Fatalf("expected FrameLocated, got %v", status)
		}
		if frame.Length != 5 {
			t.Errorf("expected declared length 5, got %d", frame.Length)
		}
		want := len("+QIRD: 5\r\n")
		if frame.PayloadStart != want {
			t.Errorf("expected payload start %d, got %d", want, frame.PayloadStart)
		}
		payload := data[frame.PayloadStart : frame.PayloadStart+frame.Length]
		if string(payload) != "AB\rCD" {
			t.Errorf("expected payload %q, got %q", "AB\rCD", payload)
		}
	})

	t.Run("Incomplete payload", func(t *testing.T) {
		data := []byte("+QIRD: 5\r\nAB\r")
		status, frame, err := at.LocateFrame(data, testFrameSpec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != at.FrameIncomplete {
			t.Fatalf("expected FrameIncomplete, got %v", status)
		}
		if frame.PayloadStart != 0 || frame.Length != 0 {
			t.Errorf("expected zero frame on incomplete, got %+v", frame)
		}
	})

	t.Run("Incomplete length line", func(t *testing.T) {
		status, _, err := at.LocateFrame([]byte("+QIRD: 5"), testFrameSpec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != at.FrameIncomplete {
			t.Errorf("expected FrameIncomplete, got %v", status)
		}
	})

	t.Run("Not a frame", func(t *testing.T) {
		status, _, err := at.LocateFrame([]byte("+QCSQ: \"eMTC\",-52\r\n"), testFrameSpec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != at.FrameNone {
			t.Errorf("expected FrameNone, got %v", status)
		}
	})

	t.Run("Unread statistics variant is not a frame", func(t *testing.T) {
		status, _, err := at.LocateFrame([]byte("+QIRD: 10,5,5\r\n"), testFrameSpec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != at.FrameNone {
			t.Errorf("expected FrameNone for comma-separated counters, got %v", status)
		}
	})

	t.Run("Declared length over maximum", func(t *testing.T) {
		status, _, err := at.LocateFrame([]byte("+QIRD: 9999\r\n"), testFrameSpec)
		if status != at.FrameInvalid {
			t.Fatalf("expected FrameInvalid, got %v", status)
		}
		if err == nil {
			t.Error("expected error describing the length violation")
		}
	})

	t.Run("Zero-length frame", func(t *testing.T) {
		status, frame, err := at.LocateFrame([]byte("+QIRD: 0\r\n"), testFrameSpec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != at.FrameLocated {
			t.Fatalf("expected FrameLocated, got %v", status)
		}
		if frame.Length != 0 {
			t.Errorf("expected length 0, got %d", frame.Length)
		}
	})
}

func TestNewSplitter(t *testing.T) {
	t.Run("Frame token survives embedded CRLF", func(t *testing.T) {
		input := "+QIRD: 6\r\nAB\r\nCD\r\nOK\r\n"
		scanner := bufio.NewScanner(strings.NewReader(input))
		scanner.Split(at.NewSplitter(testFrameSpec))

		var tokens []string
		for scanner.Scan() {
			tokens = append(tokens, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			t.Fatalf("Scanner error: %v", err)
		}

		// The CRLF separating the payload from OK becomes one empty line
		// token, which the event loop discards.
		expected := []string{"+QIRD: 6\r\nAB\r\nCD", "", "OK"}
		if len(tokens) != len(expected) {
			t.Fatalf("Expected %d tokens, got %d: %q", len(expected), len(tokens), tokens)
		}
		for i := range expected {
			if tokens[i] != expected[i] {
				t.Errorf("Token %d: expected %q, got %q", i, expected[i], tokens[i])
			}
		}
	})

	t.Run("Ordinary lines pass through", func(t *testing.T) {
		input := "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\n"
		scanner := bufio.NewScanner(strings.NewReader(input))
		scanner.Split(at.NewSplitter(testFrameSpec))

		var tokens []string
		for scanner.Scan() {
			tokens = append(tokens, scanner.Text())
		}
		expected := []string{"AT+CSQ", "+CSQ: 15,99", "OK"}
		if len(tokens) != len(expected) {
			t.Fatalf("Expected %d tokens, got %d: %q", len(expected), len(tokens), tokens)
		}
		for i := range expected {
			if tokens[i] != expected[i] {
				t.Errorf("Token %d: expected %q, got %q", i, expected[i], tokens[i])
			}
		}
	})

	t.Run("Invalid frame falls through to line splitting", func(t *testing.T) {
		input := "+QIRD: 9999\r\nOK\r\n"
		scanner := bufio.NewScanner(strings.NewReader(input))
		scanner.Split(at.NewSplitter(testFrameSpec))

		var tokens []string
		for scanner.Scan() {
			tokens = append(tokens, scanner.Text())
		}
		expected := []string{"+QIRD: 9999", "OK"}
		if len(tokens) != len(expected) {
			t.Fatalf("Expected %d tokens, got %d: %q", len(expected), len(tokens), tokens)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected at.ResponseType
	}{
		// Final responses
		{name: "OK response", input: "OK", expected: at.TypeFinal},
		{name: "ERROR response", input: "ERROR", expected: at.TypeFinal},
		{name: "CME Error", input: "+CME ERROR: 30", expected: at.TypeFinal},
		{name: "CMS Error", input: "+CMS ERROR: 500", expected: at.TypeFinal},
		{name: "SEND OK", input: "SEND OK", expected: at.TypeFinal},
		{name: "SEND FAIL", input: "SEND FAIL", expected: at.TypeFinal},

		// URCs
		{name: "App ready URC", input: "APP RDY", expected: at.TypeURC},
		{name: "Ready URC", input: "RDY", expected: at.TypeURC},
		{name: "Power down URC", input: "NORMAL POWER DOWN", expected: at.TypeURC},
		{name: "PSM power down URC", input: "PSM POWER DOWN", expected: at.TypeURC},
		{name: "DNS URC", input: "+QIURC: \"dnsgip\",0,1,600", expected: at.TypeURC},

		// Data responses
		{name: "AT command", input: "AT+CSQ", expected: at.TypeData},
		{name: "Signal quality response", input: "+CSQ: 15,99", expected: at.TypeData},
		{name: "PIN status", input: "+CPIN: READY", expected: at.TypeData},
		{name: "Network info", input: "+QNWINFO: \"eMTC\",\"20201\",\"LTE BAND 20\",6300", expected: at.TypeData},
		{name: "Device info", input: "Quectel", expected: at.TypeData},

		// Prompt
		{name: "Data input prompt", input: "> ", expected: at.TypePrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := at.Classify(tt.input)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v for input %q", tt.expected, result, tt.input)
			}
		})
	}
}
