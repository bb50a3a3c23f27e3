package auction

import "testing"

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "12.34", want: 1234},
		{in: "150", want: 15000},
		{in: "0.5", want: 50},
		{in: "0.05", want: 5},
		{in: " 7.00 ", want: 700},
		{in: ".99", want: 99},
		{in: "-3.25", want: -325},
		{in: "1.999", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "1.x", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMoney(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMoney(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMoney(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := []struct {
		in   Money
		want string
	}{
		{1234, "12.34"},
		{15000, "150.00"},
		{5, "0.05"},
		{0, "0.00"},
		{-325, "-3.25"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Errorf("Money(%d).String() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusScheduled: {StatusPreflightSkipped, StatusExecuting, StatusCancelled},
		StatusExecuting: {StatusSucceeded, StatusFailed},
	}
	all := []Status{
		StatusScheduled, StatusPreflightSkipped, StatusExecuting,
		StatusSucceeded, StatusFailed, StatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusScheduled:        false,
		StatusExecuting:        false,
		StatusPreflightSkipped: true,
		StatusSucceeded:        true,
		StatusFailed:           true,
		StatusCancelled:        true,
	}
	for st, want := range terminal {
		if got := st.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", st, got, want)
		}
	}
}
