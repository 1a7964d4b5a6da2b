package discovery

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"
)

const (
	multicastAddr = "239.255.255.250:1900"
	searchTarget  = "urn:schemas-upnp-org:device:ZonePlayer:1"
)

type ssdpResponse struct {
	Location string
	USN      string
	FromAddr string
}

// search sends multi-pass M-SEARCH probes and collects unicast responses
// until the wait window closes. Responses are deduplicated by USN; players
// answer each probe, so one device typically shows up once per pass.
func search(ctx context.Context, passes int, passInterval, wait time.Duration) ([]ssdpResponse, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dest, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, err
	}

	probe := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + multicastAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 2",
		"ST: " + searchTarget,
		"",
		"",
	}, "\r\n")

	for pass := 0; pass < passes; pass++ {
		if _, err := conn.WriteTo([]byte(probe), dest); err != nil {
			return nil, err
		}
		if pass < passes-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(passInterval):
			}
		}
	}

	if deadline, ok := ctx.Deadline(); ok && deadline.Before(time.Now().Add(wait)) {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(wait))
	}

	seen := make(map[string]ssdpResponse)
	buf := make([]byte, 2048)
	for {
		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return toSlice(seen), err
		}
		resp := parseSearchResponse(string(buf[:n]))
		if resp.Location == "" || resp.USN == "" {
			continue
		}
		resp.FromAddr = raddr.String()
		if _, ok := seen[resp.USN]; !ok {
			seen[resp.USN] = resp
		}
	}

	return toSlice(seen), nil
}

func parseSearchResponse(raw string) ssdpResponse {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	if !scanner.Scan() {
		return ssdpResponse{}
	}
	if !strings.Contains(scanner.Text(), "200") {
		return ssdpResponse{}
	}

	var resp ssdpResponse
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		switch key {
		case "LOCATION":
			resp.Location = value
		case "USN":
			resp.USN = value
		}
	}
	return resp
}

func toSlice(seen map[string]ssdpResponse) []ssdpResponse {
	out := make([]ssdpResponse, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	return out
}
