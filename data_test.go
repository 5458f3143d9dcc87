package ftpcore

import (
	"net"
	"testing"
)

func TestParsePASVEndpoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "loopback",
			input:    "Entering Passive Mode (127,0,0,1,234,5)",
			wantHost: "127.0.0.1",
			wantPort: 59909,
		},
		{
			name:     "without parentheses",
			input:    "Entering Passive Mode 192,168,1,1,195,149",
			wantHost: "192.168.1.1",
			wantPort: 50069,
		},
		{
			name:     "unspecified address",
			input:    "=0,0,0,0,78,52",
			wantHost: "0.0.0.0",
			wantPort: 20020,
		},
		{
			name:    "no endpoint",
			input:   "Entering Passive Mode",
			wantErr: true,
		},
		{
			name:    "octet out of range",
			input:   "(300,168,1,1,195,149)",
			wantErr: true,
		},
		{
			name:    "port byte out of range",
			input:   "(10,0,0,1,999,5)",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := parsePASVEndpoint(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePASVEndpoint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("parsePASVEndpoint() = %s:%d, want %s:%d", host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestParseEPSVPort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "standard reply",
			input:    "Entering Extended Passive Mode (|||52311|)",
			wantPort: 52311,
		},
		{
			name:     "small port",
			input:    "(|||21|)",
			wantPort: 21,
		},
		{
			name:    "missing endpoint",
			input:   "Entering Extended Passive Mode",
			wantErr: true,
		},
		{
			name:    "port out of range",
			input:   "(|||70000|)",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, err := parseEPSVPort(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseEPSVPort() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && port != tt.wantPort {
				t.Errorf("parseEPSVPort() = %d, want %d", port, tt.wantPort)
			}
		})
	}
}

func TestFormatPORT(t *testing.T) {
	t.Parallel()
	got, err := formatPORT(net.ParseIP("192.168.1.100"), 50000)
	if err != nil {
		t.Fatalf("formatPORT() error = %v", err)
	}
	want := "192,168,1,100,195,80"
	if got != want {
		t.Errorf("formatPORT() = %q, want %q", got, want)
	}

	if _, err := formatPORT(net.ParseIP("2001:db8::1"), 50000); err == nil {
		t.Error("formatPORT() should reject IPv6 addresses")
	}
}

func TestFormatEPRT(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ip   string
		port int
		want string
	}{
		{"192.168.1.100", 50000, "|1|192.168.1.100|50000|"},
		{"2001:db8::1", 50000, "|2|2001:db8::1|50000|"},
	}
	for _, tt := range tests {
		if got := formatEPRT(net.ParseIP(tt.ip), tt.port); got != tt.want {
			t.Errorf("formatEPRT(%s) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestDataChannelModeActive(t *testing.T) {
	t.Parallel()
	active := []DataChannelMode{ModeAutoActive, ModePORT, ModeEPRT}
	passive := []DataChannelMode{ModeAutoPassive, ModePASV, ModeEPSV, ModePASVEX}

	for _, m := range active {
		if !m.active() {
			t.Errorf("mode %d should be active", m)
		}
	}
	for _, m := range passive {
		if m.active() {
			t.Errorf("mode %d should be passive", m)
		}
	}
}
