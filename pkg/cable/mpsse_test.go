package cable

import "testing"

func TestComputeDivisorNeverExceedsRequested(t *testing.T) {
	cases := []struct {
		base, hz int
	}{
		{mpsseBaseClockHz, 7_000_000},
		{mpsseBaseClockHz, 5_000_000},
		{mpsseBaseClockHz, 1_000_000},
		{mpsseBaseClockHz, 6_000_000},
		{mpsseBaseClockHz, 30_000_000},
		{mpsseBaseClockHzFT2232C, 1_000_000},
		{mpsseBaseClockHzFT2232C, 100},
	}
	for _, c := range cases {
		_, actual := mpsseComputeDivisor(c.base, c.hz)
		if actual > c.hz {
			t.Errorf("mpsseComputeDivisor(%d, %d) = actual %d, want <= %d", c.base, c.hz, actual, c.hz)
		}
	}
}

func TestComputeDivisorKnownValues(t *testing.T) {
	// 60MHz base, request 7MHz: presc=3 gives 60e6/8=7.5MHz (>7MHz, rejected),
	// presc=4 gives 60e6/10=6MHz, the nearest rate <= the request.
	if presc, actual := mpsseComputeDivisor(mpsseBaseClockHz, 7_000_000); presc != 4 || actual != 6_000_000 {
		t.Errorf("mpsseComputeDivisor(60MHz, 7MHz) = (%d, %d), want (4, 6000000)", presc, actual)
	}
	// request 5MHz: presc=5 gives 60e6/12=5MHz exactly.
	if presc, actual := mpsseComputeDivisor(mpsseBaseClockHz, 5_000_000); presc != 5 || actual != 5_000_000 {
		t.Errorf("mpsseComputeDivisor(60MHz, 5MHz) = (%d, %d), want (5, 5000000)", presc, actual)
	}
	// request 30MHz: presc=0 gives 60e6/2=30MHz exactly.
	if presc, actual := mpsseComputeDivisor(mpsseBaseClockHz, 30_000_000); presc != 0 || actual != 30_000_000 {
		t.Errorf("mpsseComputeDivisor(60MHz, 30MHz) = (%d, %d), want (0, 30000000)", presc, actual)
	}
}

func TestComputeDivisorClampsPrescalerRange(t *testing.T) {
	presc, actual := mpsseComputeDivisor(mpsseBaseClockHz, 100)
	if presc != 0xFFFF {
		t.Errorf("presc = %#x, want clamped to 0xFFFF", presc)
	}
	if actual != mpsseBaseClockHz/(2*(0xFFFF+1)) {
		t.Errorf("actual = %d, want %d", actual, mpsseBaseClockHz/(2*(0xFFFF+1)))
	}
}
