package smtpresp

import (
	"strconv"
	"strings"
	"testing"
)

func TestParseSimpleSuccess(t *testing.T) {
	resp, err := Parse([]byte("250 OK\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 250 || resp.Message != "OK" || resp.Classification != Success {
		t.Fatalf("got %+v", resp)
	}
	if resp.EnhancedCode != "" {
		t.Fatalf("expected no enhanced code, got %q", resp.EnhancedCode)
	}
}

func TestParseMultilineEHLO(t *testing.T) {
	input := "250-mx.google.com at your service\r\n" +
		"250-SIZE 35882577\r\n" +
		"250-8BITMIME\r\n" +
		"250-STARTTLS\r\n" +
		"250-ENHANCEDSTATUSCODES\r\n" +
		"250 CHUNKING\r\n"
	resp, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 250 {
		t.Fatalf("expected code 250, got %d", resp.Code)
	}
	if len(resp.Lines) != 6 {
		t.Fatalf("expected 6 lines, got %d", len(resp.Lines))
	}
	if resp.Classification != Success {
		t.Fatalf("expected SUCCESS, got %s", resp.Classification)
	}
}

func TestParseEnhancedCode(t *testing.T) {
	input := "550 5.1.1 The email account that you tried to reach does not exist.\r\n"
	resp, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 550 {
		t.Fatalf("expected code 550, got %d", resp.Code)
	}
	if resp.EnhancedCode != "5.1.1" {
		t.Fatalf("expected enhanced code 5.1.1, got %q", resp.EnhancedCode)
	}
	if strings.Contains(resp.Message, "5.1.1") {
		t.Fatalf("message should not contain enhanced code: %q", resp.Message)
	}
	if resp.Classification != PermanentFail {
		t.Fatalf("expected PERMANENT_FAIL, got %s", resp.Classification)
	}
}

func TestParseIncompleteMultiline(t *testing.T) {
	input := "250-mx.google.com at your service\r\n250-SIZE 35882577\r\n"
	_, err := Parse([]byte(input))
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestParseEmptyBuffer(t *testing.T) {
	_, err := Parse(nil)
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete for empty buffer, got %v", err)
	}
}

func TestParseOnlyDashLine(t *testing.T) {
	_, err := Parse([]byte("250-only a continuation\r\n"))
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestParseMalformedLastLine(t *testing.T) {
	_, err := Parse([]byte("not a response at all\r\n"))
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete for malformed input, got %v", err)
	}
}

func TestClassificationBuckets(t *testing.T) {
	cases := map[string]Classification{
		"200 ok\r\n":          Success,
		"354 go ahead\r\n":    Intermediate,
		"450 busy\r\n":        TransientFail,
		"550 no such user\r\n": PermanentFail,
	}
	for input, want := range cases {
		resp, err := Parse([]byte(input))
		if err != nil {
			t.Fatalf("%q: unexpected error %v", input, err)
		}
		if resp.Classification != want {
			t.Errorf("%q: got %s, want %s", input, resp.Classification, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	original := "250-mx.example.com greets you\r\n250 SIZE 100\r\n"
	resp, err := Parse([]byte(original))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reserialized := ""
	for i, line := range resp.Lines {
		sep := "-"
		if i == len(resp.Lines)-1 {
			sep = " "
		}
		reserialized += strconv.Itoa(resp.Code) + sep + lineBody(line) + "\r\n"
	}

	resp2, err := Parse([]byte(reserialized))
	if err != nil {
		t.Fatalf("unexpected error on reparse: %v", err)
	}
	if resp2.Code != resp.Code || resp2.EnhancedCode != resp.EnhancedCode || resp2.Classification != resp.Classification {
		t.Fatalf("round trip mismatch: %+v vs %+v", resp, resp2)
	}
}

func lineBody(line string) string {
	if len(line) < 4 {
		return ""
	}
	return line[4:]
}

