package ytdlp

import "testing"

func TestParseVTT_ManualTrack(t *testing.T) {
	doc := "WEBVTT\nKind: captions\nLanguage: en\n\nNOTE generated\n\n1\n00:00:00.000 --> 00:00:02.000\nHello &amp; welcome\n\n2\n00:00:02.000 --> 00:00:04.000 align:start position:0%\n<i>to the show</i>\n"
	got := ParseVTT(doc)
	want := "Hello & welcome\nto the show"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseVTT_CollapsesRollingAutoCaptions(t *testing.T) {
	doc := "WEBVTT\r\n\r\n" +
		"00:00:00.000 --> 00:00:01.000\r\nthe quick<00:00:00.500><c> brown</c>\r\n\r\n" +
		"00:00:01.000 --> 00:00:01.010\r\nthe quick brown\r\n \r\n\r\n" +
		"00:00:01.010 --> 00:00:03.000\r\nthe quick brown\r\nfox jumps\r\n"
	got := ParseVTT(doc)
	want := "the quick brown\nfox jumps"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseVTT_EmptyDocument(t *testing.T) {
	if got := ParseVTT("WEBVTT\n\n"); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}
