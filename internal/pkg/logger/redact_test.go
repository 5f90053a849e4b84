package logger

import "testing"

func TestRedactAddress_Email(t *testing.T) {
	cases := map[string]string{
		"ada.lovelace@example.com": "a***e@example.com",
		"ab@example.com":           "**@example.com",
		"a@example.com":            "**@example.com",
	}
	for in, want := range cases {
		if got := RedactAddress(in); got != want {
			t.Errorf("RedactAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactAddress_Phone(t *testing.T) {
	if got := RedactAddress("+15551234567"); got != "+15*****67" {
		t.Errorf("RedactAddress(phone) = %q", got)
	}
}

func TestRedactAddress_Passthrough(t *testing.T) {
	if got := RedactAddress("not-an-address"); got != "not-an-address" {
		t.Errorf("RedactAddress(plain) = %q", got)
	}
}

func TestRedactEmbedded(t *testing.T) {
	in := "sent to ada.lovelace@example.com and +15551234567"
	got := redactEmbedded(in)
	if got != "sent to a***e@example.com and +15*****67" {
		t.Errorf("redactEmbedded = %q", got)
	}
}
