package tgui

import "testing"

func TestDataParseData(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		scope   string
		action  string
		payload string
		want    string
	}{
		{"no payload", "chats", "toggle", "", "chats:toggle"},
		{"payload", "job", "cancel", "42", "job:cancel:42"},
		{"payload with colon", "job", "open", "a:b", "job:open:a:b"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Data(tc.scope, tc.action, tc.payload)
			if got != tc.want {
				t.Fatalf("Data() = %q, want %q", got, tc.want)
			}
			s, a, p := ParseData(got)
			if s != tc.scope || a != tc.action || p != tc.payload {
				t.Fatalf("ParseData(%q) = (%q, %q, %q), want (%q, %q, %q)",
					got, s, a, p, tc.scope, tc.action, tc.payload)
			}
		})
	}
}

func TestPackUnpackJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	in := payload{ID: 7, Name: "weekly"}
	s, err := PackJSON(in)
	if err != nil {
		t.Fatalf("PackJSON: %v", err)
	}
	var out payload
	if err := UnpackJSON(s, &out); err != nil {
		t.Fatalf("UnpackJSON: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"hello", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
