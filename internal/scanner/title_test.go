package scanner

import "testing"

func TestTitleScannerBEL(t *testing.T) {
	var ts TitleScanner
	ts.Scan([]byte("\x1b]0;my title\x07"))
	title, seen := ts.Title()
	if !seen || title != "my title" {
		t.Errorf("title=%q seen=%v, want %q true", title, seen, "my title")
	}
}

func TestTitleScannerST(t *testing.T) {
	var ts TitleScanner
	ts.Scan([]byte("\x1b]2;other title\x1b\\"))
	title, seen := ts.Title()
	if !seen || title != "other title" {
		t.Errorf("title=%q seen=%v, want %q true", title, seen, "other title")
	}
}

func TestTitleScannerKind1(t *testing.T) {
	var ts TitleScanner
	ts.Scan([]byte("\x1b]1;icon name\x07"))
	title, seen := ts.Title()
	if !seen || title != "icon name" {
		t.Errorf("title=%q seen=%v", title, seen)
	}
}

func TestTitleScannerNoTitleYet(t *testing.T) {
	var ts TitleScanner
	_, seen := ts.Title()
	if seen {
		t.Error("expected seen=false before any scan")
	}
}

func TestTitleScannerOverwritesPrevious(t *testing.T) {
	var ts TitleScanner
	ts.Scan([]byte("\x1b]0;first\x07"))
	ts.Scan([]byte("\x1b]0;second\x07"))
	title, _ := ts.Title()
	if title != "second" {
		t.Errorf("title = %q, want %q", title, "second")
	}
}

func TestTitleScannerUnterminatedInBuffer(t *testing.T) {
	var ts TitleScanner
	ts.Scan([]byte("\x1b]0;incomplete"))
	_, seen := ts.Title()
	if seen {
		t.Error("unterminated sequence must not be recorded as a title")
	}
}

func TestTitleScannerIgnoresUnrecognizedOSC(t *testing.T) {
	var ts TitleScanner
	ts.Scan([]byte("\x1b]9;a notification\x07"))
	_, seen := ts.Title()
	if seen {
		t.Error("OSC 9 is not a title sequence and must be ignored")
	}
}

func TestTitleScannerMixedWithOrdinaryText(t *testing.T) {
	var ts TitleScanner
	ts.Scan([]byte("hello\x1b]0;shell@host\x07world"))
	title, seen := ts.Title()
	if !seen || title != "shell@host" {
		t.Errorf("title=%q seen=%v", title, seen)
	}
}
