package tty

import (
	"testing"

	"github.com/Zakki0925224/myos-x86-64/device/keyboard"
)

type fakeKeySource struct {
	events []keyboard.Event
}

func (s *fakeKeySource) ReadEvent() (keyboard.Event, bool) {
	if len(s.events) == 0 {
		return keyboard.Event{}, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}

func pressEvents(s string) []keyboard.Event {
	evs := make([]keyboard.Event, len(s))
	for i := range s {
		evs[i] = keyboard.Event{Pressed: true, ASCII: s[i]}
	}
	return evs
}

func TestLineEditorAssemblesLineOnNewline(t *testing.T) {
	src := &fakeKeySource{events: pressEvents("hello\n")}
	ed := NewLineEditor(nil, src)

	ed.Poll()

	line, ok := ed.ReadLine()
	if !ok {
		t.Fatal("expected a completed line")
	}
	if string(line) != "hello" {
		t.Fatalf("expected %q; got %q", "hello", line)
	}
}

func TestLineEditorBackspaceRemovesLastByte(t *testing.T) {
	src := &fakeKeySource{events: pressEvents("helloo\b\n")}
	ed := NewLineEditor(nil, src)

	ed.Poll()

	line, ok := ed.ReadLine()
	if !ok {
		t.Fatal("expected a completed line")
	}
	if string(line) != "hello" {
		t.Fatalf("expected %q; got %q", "hello", line)
	}
}

func TestLineEditorReadLineDrainsInOrder(t *testing.T) {
	src := &fakeKeySource{events: pressEvents("ab\ncd\n")}
	ed := NewLineEditor(nil, src)
	ed.Poll()

	first, ok := ed.ReadLine()
	if !ok || string(first) != "ab" {
		t.Fatalf("expected first line %q; got %q (ok=%v)", "ab", first, ok)
	}
	second, ok := ed.ReadLine()
	if !ok || string(second) != "cd" {
		t.Fatalf("expected second line %q; got %q (ok=%v)", "cd", second, ok)
	}
	if _, ok := ed.ReadLine(); ok {
		t.Fatal("expected no more completed lines")
	}
}

func TestLineEditorIgnoresKeyUpEvents(t *testing.T) {
	src := &fakeKeySource{events: []keyboard.Event{{Pressed: false, ASCII: 'x'}, {Pressed: true, ASCII: '\n'}}}
	ed := NewLineEditor(nil, src)
	ed.Poll()

	line, ok := ed.ReadLine()
	if !ok || string(line) != "" {
		t.Fatalf("expected empty line; got %q (ok=%v)", line, ok)
	}
}
