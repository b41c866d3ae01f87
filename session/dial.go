package session

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
)

// dialer opens connections that present a profile's ClientHello, optionally
// through an upstream proxy.
type dialer struct {
	hello   tls.ClientHelloID
	proxy   *url.URL
	timeout time.Duration
}

func newDialer(hello tls.ClientHelloID, proxyURL string, timeout time.Duration) (*dialer, error) {
	d := &dialer{hello: hello, timeout: timeout}
	if proxyURL == "" {
		return d, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("session: unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("session: proxy url %q has no host", proxyURL)
	}
	d.proxy = u
	return d, nil
}

// helloSpec expands the profile's ClientHello into a spec with ALPN forced to
// http/1.1. net/http cannot speak h2 over a utls connection. A fresh spec is
// built per connection because ApplyPreset takes ownership of its extensions.
func (d *dialer) helloSpec() (*tls.ClientHelloSpec, error) {
	spec, err := tls.UTLSIdToSpec(d.hello)
	if err != nil {
		return nil, fmt.Errorf("session: build tls spec for %s: %w", d.hello.Str(), err)
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	return &spec, nil
}

// DialContext returns a plain TCP connection to addr, tunnelled through the
// proxy when one is configured.
func (d *dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.timeout, KeepAlive: 30 * time.Second}
	if d.proxy == nil {
		return nd.DialContext(ctx, network, addr)
	}

	if d.proxy.Scheme == "socks5" || d.proxy.Scheme == "socks5h" {
		pd, err := proxy.FromURL(d.proxy, nd)
		if err != nil {
			return nil, fmt.Errorf("session: socks5 dialer: %w", err)
		}
		if cd, ok := pd.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return pd.Dial(network, addr)
	}

	conn, err := nd.DialContext(ctx, "tcp", d.proxy.Host)
	if err != nil {
		return nil, fmt.Errorf("session: dial proxy: %w", err)
	}
	if err := d.connect(ctx, conn, addr); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// DialTLSContext performs the impersonated TLS handshake on top of
// DialContext. http.Transport.Proxy is never set because the transport would
// then hand the proxy address, not the origin, to this function.
func (d *dialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	spec, err := d.helloSpec()
	if err != nil {
		conn.Close()
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}

// connect issues an HTTP CONNECT for addr over an open proxy connection.
func (d *dialer) connect(ctx context.Context, conn net.Conn, addr string) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	} else if d.timeout > 0 {
		conn.SetDeadline(time.Now().Add(d.timeout))
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := d.proxy.User; u != nil {
		pass, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	if err := req.Write(conn); err != nil {
		return fmt.Errorf("session: write CONNECT: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fmt.Errorf("session: read CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session: proxy refused CONNECT %s: %s", addr, resp.Status)
	}
	return nil
}
