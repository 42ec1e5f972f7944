package discord

import (
	"strings"
	"testing"
)

func TestIsAbortPhrase(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"stop", true},
		{"Stop", true},
		{"STOP!", true},
		{"never mind.", true},
		{"nevermind", true},
		{"abort", true},
		{"cancel", true},
		{"stop it", true},
		{"please stop the build", false},
		{"stop and then do something else", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isAbortPhrase(tc.content); got != tc.want {
			t.Errorf("isAbortPhrase(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestStripMention(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<@123> hello", "hello"},
		{"<@!123> hello", "hello"},
		{"hello <@123>", "hello"},
		{"no mention here", "no mention here"},
		{"<@123>", ""},
		// A mention-wrapped stop request must survive as the bare phrase.
		{"<@123> stop", "stop"},
	}
	for _, tc := range cases {
		if got := stripMention(tc.in, "123"); got != tc.want {
			t.Errorf("stripMention(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short passes through", func(t *testing.T) {
		chunks := splitMessage("hello", 2000)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("chunks: %q", chunks)
		}
	})

	t.Run("long splits at newline", func(t *testing.T) {
		text := strings.Repeat("x", 80) + "\n" + strings.Repeat("y", 80)
		chunks := splitMessage(text, 100)
		if len(chunks) != 2 {
			t.Fatalf("chunks: %d", len(chunks))
		}
		if !strings.HasSuffix(chunks[0], "\n") {
			t.Errorf("first chunk should end at the newline: %q", chunks[0])
		}
		if chunks[1] != strings.Repeat("y", 80) {
			t.Errorf("second chunk: %q", chunks[1])
		}
	})

	t.Run("no newline splits hard", func(t *testing.T) {
		chunks := splitMessage(strings.Repeat("z", 250), 100)
		if len(chunks) != 3 {
			t.Fatalf("chunks: %d", len(chunks))
		}
		for i, c := range chunks {
			if len(c) > 100 {
				t.Errorf("chunk %d exceeds the limit: %d", i, len(c))
			}
		}
	})
}

func TestIsStatusBubble(t *testing.T) {
	bubbles := []string{"thinking…", "processing step 3…", "running bash", "done"}
	for _, b := range bubbles {
		if !isStatusBubble(b) {
			t.Errorf("%q should be a status bubble", b)
		}
	}
	for _, msg := range []string{"I ran the command for you", "all done and dusted"} {
		if isStatusBubble(msg) {
			t.Errorf("%q should not be a status bubble", msg)
		}
	}
}
