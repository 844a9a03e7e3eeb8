package run

import (
	"errors"
	"testing"
)

type fakeProbe struct {
	alive bool
	name  string
}

func (f fakeProbe) Alive(int) bool  { return f.alive }
func (f fakeProbe) Name(int) string { return f.name }

func TestJanitor_ShouldReclaim(t *testing.T) {
	cases := []struct {
		name    string
		meta    Metadata
		probe   fakeProbe
		force   bool
		reclaim bool
		wantErr error
	}{
		{
			name:    "not running",
			meta:    Metadata{Status: StatusCompleted, Hostname: "here", PID: 42},
			reclaim: false,
		},
		{
			name:    "dead pid",
			meta:    Metadata{Status: StatusRunning, Hostname: "here", PID: 42},
			probe:   fakeProbe{alive: false},
			reclaim: true,
		},
		{
			name:    "alive unrelated process means pid reuse",
			meta:    Metadata{Status: StatusRunning, Hostname: "here", PID: 42},
			probe:   fakeProbe{alive: true, name: "postgres"},
			reclaim: true,
		},
		{
			name:    "alive related process",
			meta:    Metadata{Status: StatusRunning, Hostname: "here", PID: 42},
			probe:   fakeProbe{alive: true, name: "delta"},
			wantErr: ErrRunActive,
		},
		{
			name:  "remote host refused",
			meta:  Metadata{Status: StatusRunning, Hostname: "elsewhere", PID: 42},
			probe: fakeProbe{alive: false},
		},
		{
			name:    "remote host forced",
			meta:    Metadata{Status: StatusRunning, Hostname: "elsewhere", PID: 42},
			probe:   fakeProbe{alive: false},
			force:   true,
			reclaim: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := &Janitor{hostname: "here", probe: tc.probe}
			reclaim, err := j.ShouldReclaim(tc.meta, tc.force)

			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if tc.name == "remote host refused" {
				if err == nil {
					t.Fatal("expected an error for a remote RUNNING run")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reclaim != tc.reclaim {
				t.Errorf("reclaim = %v, want %v", reclaim, tc.reclaim)
			}
		})
	}
}

func TestStatus_Resumable(t *testing.T) {
	resumable := map[Status]bool{
		StatusWaiting:     true,
		StatusInterrupted: true,
		StatusRunning:     false,
		StatusCompleted:   false,
		StatusFailed:      false,
	}
	for s, want := range resumable {
		if got := s.Resumable(); got != want {
			t.Errorf("%s.Resumable() = %v, want %v", s, got, want)
		}
	}
}
