package humanize

import "testing"

func TestHumanized(t *testing.T) {
	cases := []struct {
		in   Bytes
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1 << 20, "5.00 MB"},
		{3 * 1 << 30, "3.00 GB"},
	}
	for _, c := range cases {
		if got := c.in.Humanized(); got != c.want {
			t.Errorf("Bytes(%d).Humanized() = %q, want %q", c.in, got, c.want)
		}
	}
}
