// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pagetables

import (
	"strings"
	"testing"

	"gvisor.dev/vtop/pkg/hostarch"
)

func TestMakePTE(t *testing.T) {
	p := MakePTE(0x9abcd, Present|Writable|NoExecute)
	if got, want := p.PFN(), uint64(0x9abcd); got != want {
		t.Errorf("PFN() = %#x, want %#x", got, want)
	}
	if got, want := p.Address(), hostarch.PhysAddr(0x9abcd000); got != want {
		t.Errorf("Address() = %v, want %v", got, want)
	}
	if !p.HasFlags(Present | Writable | NoExecute) {
		t.Errorf("flags lost: %v", p)
	}
	if p.HasFlags(User) {
		t.Errorf("unexpected user flag: %v", p)
	}
	if got, want := p.Flags(), Present|Writable|NoExecute; got != want {
		t.Errorf("Flags() = %#x, want %#x", uint64(got), uint64(want))
	}
}

func TestMakePTEIgnoresAddressBitsInFlags(t *testing.T) {
	p := MakePTE(1, Present|0x5000)
	if got := p.PFN(); got != 1 {
		t.Errorf("PFN() = %#x, want 1", got)
	}
}

func TestAlignment(t *testing.T) {
	for _, raw := range []uint64{
		0x1,
		0x8000000012345867,
		0x000fffffffffffff,
		0xffffffffffffffff,
		0x0000000009abcd63,
	} {
		p := PTE(raw)
		if p.PFN() == 0 {
			continue
		}
		if p.Address()%hostarch.PageSize != 0 {
			t.Errorf("PTE(%#x).Address() = %v is not page aligned", raw, p.Address())
		}
		if p.PFN() >= 1<<pfnBits {
			t.Errorf("PTE(%#x).PFN() = %#x exceeds %d bits", raw, p.PFN(), pfnBits)
		}
	}
}

func TestPTEString(t *testing.T) {
	s := MakePTE(0x42, Present|User|Super).String()
	for _, want := range []string{"pfn=0x42", "present", "user", "super"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
	if s := PTE(0).String(); !strings.Contains(s, "none") {
		t.Errorf("PTE(0).String() = %q", s)
	}
}

func TestPresence(t *testing.T) {
	transition := PTE(0x0000000012345800) // Frame set, present clear.
	for _, tc := range []struct {
		mode  Presence
		entry PTE
		want  bool
	}{
		{PresentBit, 0, false},
		{PresentBit, transition, false},
		{PresentBit, MakePTE(1, Present), true},
		{NonZero, 0, false},
		{NonZero, transition, true},
		{NonZero, MakePTE(1, Present), true},
	} {
		if got := tc.mode.Check(tc.entry); got != tc.want {
			t.Errorf("%v.Check(%#x) = %t, want %t", tc.mode, uint64(tc.entry), got, tc.want)
		}
	}
}

func TestPresenceFlag(t *testing.T) {
	var m Presence
	if err := m.Set("nonzero"); err != nil || m != NonZero {
		t.Errorf("Set(nonzero) = %v, mode %v", err, m)
	}
	if err := m.Set("present"); err != nil || m != PresentBit {
		t.Errorf("Set(present) = %v, mode %v", err, m)
	}
	if err := m.Set("bogus"); err == nil {
		t.Errorf("Set(bogus) succeeded")
	}
	if got := m.Get().(Presence); got != PresentBit {
		t.Errorf("Get() = %v", got)
	}
}

func TestParseFlags(t *testing.T) {
	got, err := ParseFlags([]string{"present", "Writable", "noexecute"})
	if err != nil {
		t.Fatalf("ParseFlags() failed: %v", err)
	}
	if want := Present | Writable | NoExecute; got != want {
		t.Errorf("ParseFlags() = %#x, want %#x", uint64(got), uint64(want))
	}
	if _, err := ParseFlags([]string{"present", "bogus"}); err == nil {
		t.Errorf("ParseFlags() accepted an unknown flag")
	}
	if got, err := ParseFlags(nil); err != nil || got != 0 {
		t.Errorf("ParseFlags(nil) = %#x, %v", uint64(got), err)
	}
}
