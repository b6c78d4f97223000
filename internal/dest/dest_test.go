package dest

import (
	"net/netip"
	"testing"
)

func TestAddressKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr Address
		want Kind
		str  string
	}{
		{name: "ipv4", addr: IP(netip.MustParseAddr("93.184.216.34")), want: KindIPv4, str: "93.184.216.34"},
		{name: "mapped ipv4", addr: IP(netip.MustParseAddr("::ffff:10.0.0.1")), want: KindIPv4, str: "10.0.0.1"},
		{name: "ipv6", addr: IP(netip.MustParseAddr("2001:db8::1")), want: KindIPv6, str: "2001:db8::1"},
		{name: "domain", addr: Domain("example.com"), want: KindDomain, str: "example.com"},
		{name: "zero", addr: Address{}, want: KindInvalid, str: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.addr.Kind(); got != tt.want {
				t.Fatalf("Kind() = %s want %s", got, tt.want)
			}
			if got := tt.addr.String(); got != tt.str {
				t.Fatalf("String() = %q want %q", got, tt.str)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Destination
		wantErr bool
	}{
		{in: "example.com:443", want: Destination{Host: Domain("example.com"), Port: 443}},
		{in: "127.0.0.1:80", want: Destination{Host: IP(netip.MustParseAddr("127.0.0.1")), Port: 80}},
		{in: "[2001:db8::1]:8080", want: Destination{Host: IP(netip.MustParseAddr("2001:db8::1")), Port: 8080}},
		{in: "example.com", wantErr: true},
		{in: "example.com:70000", wantErr: true},
		{in: ":80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
			if got.String() != tt.in {
				t.Fatalf("String() = %q want %q", got.String(), tt.in)
			}
		})
	}
}

func TestWithHostKeepsPort(t *testing.T) {
	d := FromAddrPort(netip.MustParseAddrPort("93.184.216.34:443"))
	got := d.WithHost(Domain("example.com"))
	want := Destination{Host: Domain("example.com"), Port: 443}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
