package proc

import (
	"reflect"
	"testing"
)

func TestSplitArgstr(t *testing.T) {
	cases := []struct {
		in       string
		wantPath string
		wantArgv []string
	}{
		{"", "", nil},
		{"/bin/ls", "/bin/ls", []string{"/bin/ls"}},
		{"/bin/ls -l /home", "/bin/ls", []string{"/bin/ls", "-l", "/home"}},
		{"  /bin/ls  -l  ", "/bin/ls", []string{"/bin/ls", "-l"}},
	}

	for _, c := range cases {
		path, argv := splitArgstr(c.in)
		if path != c.wantPath {
			t.Errorf("splitArgstr(%q) path = %q, want %q", c.in, path, c.wantPath)
		}
		if !reflect.DeepEqual(argv, c.wantArgv) {
			t.Errorf("splitArgstr(%q) argv = %v, want %v", c.in, argv, c.wantArgv)
		}
	}
}

func TestResolvePath(t *testing.T) {
	cases := []struct {
		cwd, path, want string
	}{
		{"/", "bin/ls", "/bin/ls"},
		{"/home/user", "notes.txt", "/home/user/notes.txt"},
		{"/home/user", "/etc/passwd", "/etc/passwd"},
		{"", "init", "/init"},
	}

	for _, c := range cases {
		if got := resolvePath(c.cwd, c.path); got != c.want {
			t.Errorf("resolvePath(%q, %q) = %q, want %q", c.cwd, c.path, got, c.want)
		}
	}
}

func TestProcessFDLookupRejectsOutOfRangeAndFree(t *testing.T) {
	p := &Process{}
	p.fds[2] = fileDescriptor{inUse: true, node: 7}

	if fd, ok := p.fd(2); !ok || fd.node != 7 {
		t.Fatalf("fd(2) = %v, %v, want the open descriptor", fd, ok)
	}
	if _, ok := p.fd(3); ok {
		t.Fatalf("fd(3) should not be in use")
	}
	if _, ok := p.fd(-1); ok {
		t.Fatalf("fd(-1) should be rejected")
	}
	if _, ok := p.fd(maxFDs); ok {
		t.Fatalf("fd(maxFDs) should be rejected")
	}
}
